package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestIdentity_IsAdministrator(t *testing.T) {
	id := NewIdentity([]string{"admin-1", " admin-2 ", ""})
	if !id.IsAdministrator("admin-1") || !id.IsAdministrator("admin-2") {
		t.Error("expected configured ids to be administrators")
	}
	if id.IsAdministrator("patient-1") || id.IsAdministrator("") {
		t.Error("unexpected administrator")
	}
}

func TestIdentity_Allows(t *testing.T) {
	id := NewIdentity([]string{"admin-1"})
	tests := []struct {
		name  string
		ctx   context.Context
		owner string
		want  bool
	}{
		{"own records", WithOwner(context.Background(), "p1"), "p1", true},
		{"someone else's", WithOwner(context.Background(), "p1"), "p2", false},
		{"configured admin", WithOwner(context.Background(), "admin-1"), "p2", true},
		{"admin role", WithOwner(context.Background(), "p1", RoleAdmin), "p2", true},
		{"anonymous", context.Background(), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := id.Allows(tt.ctx, tt.owner); got != tt.want {
				t.Errorf("Allows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentity_RequireAdmin(t *testing.T) {
	id := NewIdentity([]string{"admin-1"})
	e := echo.New()
	handler := id.RequireAdmin()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithOwner(req.Context(), "p1"))
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	if statusOf(t, err) != http.StatusForbidden {
		t.Error("expected 403 for a patient")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithOwner(req.Context(), "admin-1"))
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil || rec.Code != http.StatusOK {
		t.Errorf("expected administrator to pass, got %v (%d)", err, rec.Code)
	}
}

func TestAuthSkipper(t *testing.T) {
	e := echo.New()
	for path, want := range map[string]bool{"/health": true, "/health/db": true, "/api/v1/predictions": false, "/": false} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath(path)
		if got := AuthSkipper(c); got != want {
			t.Errorf("AuthSkipper(%s) = %v, want %v", path, got, want)
		}
	}
}
