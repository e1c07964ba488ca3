package prediction

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sleeprisk/screening/internal/platform/auth"
	"github.com/sleeprisk/screening/internal/platform/docstore"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService(docstore.NewMemory())), echo.New()
}

func jsonRequest(method, body, owner string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithOwner(req.Context(), owner))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHandler_CreateAndGet(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"personalInfo":{"name":"Ana"}}`, "p1"), rec)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created writeResponse
	decode(t, rec, &created)

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodGet, "", "p1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Record
	decode(t, rec, &got)
	if got.Payload["personalInfo"].(map[string]any)["name"] != "Ana" {
		t.Errorf("unexpected payload %v", got.Payload)
	}
}

func TestHandler_Create_BadBody(t *testing.T) {
	h, e := newTestHandler()
	for _, body := range []string{`[1,2]`, `not json`, `null`} {
		c := e.NewContext(jsonRequest(http.MethodPost, body, "p1"), httptest.NewRecorder())
		err := h.Create(c)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %v", body, err)
		}
	}
}

func TestHandler_UpsertReassigns(t *testing.T) {
	h, e := newTestHandler()
	put := func(body string) writeResponse {
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPut, body, "p1"), rec)
		c.SetParamNames("id")
		c.SetParamValues("X")
		if err := h.Upsert(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var resp writeResponse
		decode(t, rec, &resp)
		return resp
	}

	first := put(`{"v":"a"}`)
	if first.ID != "X" || first.Reassigned {
		t.Errorf("expected X, got %+v", first)
	}
	second := put(`{"v":"b"}`)
	if second.ID == "X" || !second.Reassigned {
		t.Errorf("expected a reassigned id, got %+v", second)
	}

	rec, err := h.svc.Get(as("p1"), "p1", "X")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Payload["v"] != "a" {
		t.Errorf("record X was overwritten: %v", rec.Payload)
	}
	if _, ok := rec.Payload["id"]; ok {
		t.Error("path parameters must not leak into the payload")
	}
}

func TestHandler_UpdateForbidden(t *testing.T) {
	h, e := newTestHandler()
	id, _ := h.svc.Create(as("p1"), "p1", map[string]any{"v": 1})

	c := e.NewContext(jsonRequest(http.MethodPatch, `{"v":2}`, "p2"), httptest.NewRecorder())
	c.SetParamNames("ownerId", "id")
	c.SetParamValues("p1", id)
	err := h.Update(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPatch, `{"v":2}`, "p1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.Update(c); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	var got Record
	decode(t, rec, &got)
	if got.Payload["v"] != 2.0 {
		t.Errorf("expected v=2, got %v", got.Payload["v"])
	}
}

func TestHandler_Delete(t *testing.T) {
	h, e := newTestHandler()
	id, _ := h.svc.Create(as("p1"), "p1", map[string]any{"v": 1})

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodDelete, "", "p1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(jsonRequest(http.MethodDelete, "", "p1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	httpErr, ok := h.Delete(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %v", httpErr)
	}
}

func TestHandler_ListAndListAll(t *testing.T) {
	h, e := newTestHandler()
	for _, o := range []string{"p1", "p1", "p2"} {
		if _, err := h.svc.Create(as(o), o, map[string]any{"owner": o}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?limit=10", nil)
	c := e.NewContext(req.WithContext(auth.WithOwner(req.Context(), "p1")), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	var own struct {
		Data  []Record `json:"data"`
		Count int      `json:"count"`
	}
	decode(t, rec, &own)
	if own.Count != 2 {
		t.Errorf("expected 2 own records, got %d", own.Count)
	}

	c = e.NewContext(req.WithContext(auth.WithOwner(req.Context(), "p1")), httptest.NewRecorder())
	httpErr, ok := h.ListAll(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a patient, got %v", httpErr)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req.WithContext(auth.WithOwner(req.Context(), adminID)), rec)
	if err := h.ListAll(c); err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	var all struct {
		Count int `json:"count"`
	}
	decode(t, rec, &all)
	if all.Count != 3 {
		t.Errorf("expected 3 records, got %d", all.Count)
	}
}

func TestHandler_ListByOwners(t *testing.T) {
	h, e := newTestHandler()
	_, _ = h.svc.Create(as("p1"), "p1", map[string]any{"v": 1})

	req := httptest.NewRequest(http.MethodGet, "/?owners=p1,%20p2,", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req.WithContext(auth.WithOwner(req.Context(), adminID)), rec)
	if err := h.ListByOwners(c); err != nil {
		t.Fatalf("ListByOwners: %v", err)
	}
	var byOwner map[string][]Record
	decode(t, rec, &byOwner)
	if len(byOwner["p1"]) != 1 || len(byOwner["p2"]) != 0 {
		t.Errorf("unexpected listing %v", byOwner)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c = e.NewContext(req.WithContext(auth.WithOwner(req.Context(), adminID)), httptest.NewRecorder())
	httpErr, ok := h.ListByOwners(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without owners, got %v", httpErr)
	}
}
