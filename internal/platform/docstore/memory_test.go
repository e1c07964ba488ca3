package docstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sleeprisk/screening/pkg/apperrors"
)

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "patients/p1/predictions/r1", Fields{"score": 2, "createdAt": ServerTimestamp}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	doc, err := m.Get(ctx, "patients/p1/predictions/r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID != "r1" {
		t.Errorf("expected id r1, got %s", doc.ID)
	}
	if doc.Fields["score"] != 2 {
		t.Errorf("expected score 2, got %v", doc.Fields["score"])
	}
	if _, ok := TimeValue(doc.Fields["createdAt"]); !ok {
		t.Errorf("expected createdAt to be resolved to a timestamp, got %T", doc.Fields["createdAt"])
	}
}

func TestMemory_GetNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "patients/p1/predictions/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ReadsAreCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, "patients/p1/predictions/r1", Fields{"info": map[string]any{"name": "A"}})

	doc, _ := m.Get(ctx, "patients/p1/predictions/r1")
	doc.Fields["info"].(map[string]any)["name"] = "mutated"

	again, _ := m.Get(ctx, "patients/p1/predictions/r1")
	if again.Fields["info"].(map[string]any)["name"] != "A" {
		t.Error("mutating a read result must not change the stored document")
	}
}

func TestMemory_ByteCeiling(t *testing.T) {
	m := NewMemory(WithByteCeiling(100))
	err := m.Put(context.Background(), "a/b", Fields{"payload": strings.Repeat("x", 200)})
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("expected ErrDocumentTooLarge, got %v", err)
	}
	if m.Len() != 0 {
		t.Error("rejected write must not be stored")
	}
}

func TestMemory_CreateConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Create(ctx, "a/b", Fields{"v": 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create(ctx, "a/b", Fields{"v": 2}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	doc, _ := m.Get(ctx, "a/b")
	if doc.Fields["v"] != 1 {
		t.Error("conflicting create must not overwrite")
	}
}

func TestMemory_AddAssignsID(t *testing.T) {
	m := NewMemory()
	id, err := m.Add(context.Background(), "patients/p1/attachments", Fields{"name": "scan"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("expected a store-assigned id")
	}
	if _, err := m.Get(context.Background(), "patients/p1/attachments/"+id); err != nil {
		t.Fatalf("Get after Add: %v", err)
	}
}

func TestMemory_MergeDeep(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, "a/b", Fields{"info": map[string]any{"name": "A", "age": 30}, "keep": true})

	if err := m.Merge(ctx, "a/b", Fields{"info": map[string]any{"name": "B"}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	doc, _ := m.Get(ctx, "a/b")
	info := doc.Fields["info"].(map[string]any)
	if info["name"] != "B" || info["age"] != 30 {
		t.Errorf("unexpected merged info: %v", info)
	}
	if doc.Fields["keep"] != true {
		t.Error("untouched fields must survive a merge")
	}
}

func TestMemory_MergeNotFound(t *testing.T) {
	m := NewMemory()
	if err := m.Merge(context.Background(), "a/b", Fields{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_QueryOrderAndLimit(t *testing.T) {
	m := NewMemory(WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)))
	ctx := context.Background()
	for _, id := range []string{"c", "a", "d", "b"} {
		_ = m.Put(ctx, "patients/p1/predictions/"+id, Fields{"createdAt": ServerTimestamp})
	}
	_ = m.Put(ctx, "patients/p2/predictions/z", Fields{"createdAt": ServerTimestamp})

	docs, err := m.Query(ctx, "patients/p1/predictions", Query{OrderBy: "createdAt", Direction: Descending, Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := ids(docs)
	if got != "b,d,a" {
		t.Errorf("expected newest first b,d,a, got %s", got)
	}

	docs, _ = m.Query(ctx, "patients/p1/predictions", Query{OrderBy: DocumentID})
	if got := ids(docs); got != "a,b,c,d" {
		t.Errorf("expected id order a,b,c,d, got %s", got)
	}
}

func TestMemory_QueryAcrossOwners(t *testing.T) {
	m := NewMemory(WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)))
	ctx := context.Background()
	_ = m.Put(ctx, "patients/p1/predictions/x", Fields{"createdAt": ServerTimestamp})
	_ = m.Put(ctx, "patients/p2/predictions/y", Fields{"createdAt": ServerTimestamp})
	_ = m.Put(ctx, "patients/p2/attachments/z", Fields{"createdAt": ServerTimestamp})

	docs, err := m.QueryAcrossOwners(ctx, "predictions", Query{OrderBy: "createdAt", Direction: Descending})
	if err != nil {
		t.Fatalf("QueryAcrossOwners: %v", err)
	}
	if got := ids(docs); got != "y,x" {
		t.Errorf("expected y,x, got %s", got)
	}
}

func TestMemory_QueryStartAfter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = m.Put(ctx, "patients/p1/attachments/"+id, Fields{"n": id})
	}
	_ = m.Put(ctx, "patients/p2/attachments/a", Fields{"n": "a"})

	tests := []struct {
		name string
		run  func() ([]*Document, error)
		want string
	}{
		{"owner ascending", func() ([]*Document, error) {
			return m.Query(ctx, "patients/p1/attachments", Query{StartAfter: "b"})
		}, "c,d"},
		{"owner descending", func() ([]*Document, error) {
			return m.Query(ctx, "patients/p1/attachments", Query{Direction: Descending, StartAfter: "c"})
		}, "b,a"},
		{"owner with limit", func() ([]*Document, error) {
			return m.Query(ctx, "patients/p1/attachments", Query{StartAfter: "a", Limit: 2})
		}, "b,c"},
		{"group resumes by path", func() ([]*Document, error) {
			return m.QueryAcrossOwners(ctx, "attachments", Query{StartAfter: "patients/p1/attachments/d"})
		}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := tt.run()
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if got := ids(docs); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	_, err := m.Query(ctx, "patients/p1/attachments", Query{OrderBy: "n", StartAfter: "a"})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("cursor on a field ordering: expected ErrInvalidInput, got %v", err)
	}
}

func TestMemory_QueryOmit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, "patients/p1/attachments/a", Fields{"name": "scan", "payload": "AAAA"})

	docs, err := m.QueryAcrossOwners(ctx, "attachments", Query{Omit: []string{"payload"}})
	if err != nil {
		t.Fatalf("QueryAcrossOwners: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if _, ok := docs[0].Fields["payload"]; ok {
		t.Error("omitted field must not be returned")
	}
	if docs[0].Fields["name"] != "scan" {
		t.Errorf("other fields must survive, got %v", docs[0].Fields)
	}

	stored, _ := m.Get(ctx, "patients/p1/attachments/a")
	if stored.Fields["payload"] != "AAAA" {
		t.Error("omitting a field must not change the stored document")
	}

	if _, err := m.Query(ctx, "patients/p1/attachments", Query{Omit: []string{"bad field"}}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("invalid omitted field: expected ErrInvalidInput, got %v", err)
	}
}

func TestMemory_StrictIndexes(t *testing.T) {
	m := NewMemory(StrictIndexes())
	ctx := context.Background()
	_ = m.Put(ctx, "patients/p1/predictions/x", Fields{"createdAt": ServerTimestamp})

	_, err := m.Query(ctx, "patients/p1/predictions", Query{OrderBy: "createdAt", Direction: Descending})
	if !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("expected ErrIndexMissing, got %v", err)
	}
	if _, err := m.Query(ctx, "patients/p1/predictions", Query{OrderBy: DocumentID}); err != nil {
		t.Fatalf("identifier ordering must never need an index: %v", err)
	}

	m.CreateIndex("predictions", "createdAt", ScopeOwner)
	if _, err := m.Query(ctx, "patients/p1/predictions", Query{OrderBy: "createdAt"}); err != nil {
		t.Fatalf("expected query to succeed once indexed: %v", err)
	}
	if _, err := m.QueryAcrossOwners(ctx, "predictions", Query{OrderBy: "createdAt"}); !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("owner index must not serve group queries, got %v", err)
	}
}

func TestMemory_InvalidPaths(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Put(ctx, "patients/p1/predictions", Fields{}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("collection path as document: expected ErrInvalidPath, got %v", err)
	}
	if _, err := m.Query(ctx, "patients/p1", Query{}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("document path as collection: expected ErrInvalidPath, got %v", err)
	}
	if _, err := m.Query(ctx, "patients", Query{OrderBy: "bad field"}); err == nil {
		t.Error("expected error for invalid order field")
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Put(ctx, "a/b", Fields{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func ids(docs []*Document) string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return strings.Join(out, ",")
}
