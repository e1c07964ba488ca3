package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type indexKey struct {
	collection string
	field      string
	scope      Scope
}

// Memory is a thread-safe, in-process Client for tests and development.
//
// By default every ordered query is served. With StrictIndexes, ordering by
// anything but DocumentID requires a matching CreateIndex first, which is
// how missing server indexes are simulated.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]Fields
	ceiling int
	strict  bool
	indexes map[indexKey]bool
	now     func() time.Time
	last    time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithByteCeiling sets the per-document limit enforced on writes.
func WithByteCeiling(n int) MemoryOption {
	return func(m *Memory) { m.ceiling = n }
}

// StrictIndexes makes ordered queries fail with ErrIndexMissing unless the
// index was created.
func StrictIndexes() MemoryOption {
	return func(m *Memory) { m.strict = true }
}

// WithClock replaces the clock used for ServerTimestamp.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs:    make(map[string]Fields),
		ceiling: DefaultByteCeiling,
		indexes: make(map[indexKey]bool),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateIndex declares an ordering index on collection.field for scope.
func (m *Memory) CreateIndex(collection, field string, scope Scope) {
	m.mu.Lock()
	m.indexes[indexKey{collection, field, scope}] = true
	m.mu.Unlock()
}

// DropIndex removes an index declared with CreateIndex.
func (m *Memory) DropIndex(collection, field string, scope Scope) {
	m.mu.Lock()
	delete(m.indexes, indexKey{collection, field, scope})
	m.mu.Unlock()
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// clock returns a strictly increasing timestamp. Callers hold m.mu.
func (m *Memory) clock() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *Memory) checkSize(path string, fields Fields) error {
	if size := Size(path, fields); size > m.ceiling {
		return fmt.Errorf("%s is %d bytes, ceiling %d: %w", path, size, m.ceiling, ErrDocumentTooLarge)
	}
	return nil
}

func (m *Memory) Put(ctx context.Context, path string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDocumentPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := resolveTimestamps(fields, m.clock())
	if err := m.checkSize(path, doc); err != nil {
		return err
	}
	m.docs[path] = doc
	return nil
}

// Create writes the document only if path is free.
func (m *Memory) Create(ctx context.Context, path string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDocumentPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[path]; ok {
		return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}
	doc := resolveTimestamps(fields, m.clock())
	if err := m.checkSize(path, doc); err != nil {
		return err
	}
	m.docs[path] = doc
	return nil
}

func (m *Memory) Add(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	if err := validateCollectionPath(collectionPath); err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := m.Create(ctx, collectionPath+"/"+id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Get(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateDocumentPath(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return m.document(path, fields), nil
}

func (m *Memory) Merge(ctx context.Context, path string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDocumentPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	merged := mergeFields(cloneFields(existing), resolveTimestamps(fields, m.clock()))
	if err := m.checkSize(path, merged); err != nil {
		return err
	}
	m.docs[path] = merged
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDocumentPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(ctx context.Context, collectionPath string, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateCollectionPath(collectionPath); err != nil {
		return nil, err
	}
	return m.query(CollectionName(collectionPath), ScopeOwner, q, func(parent string) bool {
		return parent == collectionPath
	})
}

func (m *Memory) QueryAcrossOwners(ctx context.Context, collection string, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Contains(collection, "/") {
		return nil, fmt.Errorf("collection group %q: %w", collection, ErrInvalidPath)
	}
	return m.query(collection, ScopeGroup, q, func(parent string) bool {
		return CollectionName(parent) == collection
	})
}

func (m *Memory) query(collection string, scope Scope, q Query, match func(parent string) bool) ([]*Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := q.byID()
	if !byID && m.strict && !m.indexes[indexKey{collection, q.OrderBy, scope}] {
		return nil, fmt.Errorf("%s index on %s.%s: %w", scope, collection, q.OrderBy, ErrIndexMissing)
	}

	var docs []*Document
	for path, fields := range m.docs {
		parent, _, err := Split(path)
		if err != nil || !match(parent) {
			continue
		}
		if !byID {
			if _, ok := fields[q.OrderBy]; !ok {
				continue
			}
		}
		d := m.document(path, fields)
		if q.StartAfter != "" && !pastCursor(sortKey(d, scope), q) {
			continue
		}
		for _, f := range q.Omit {
			delete(d.Fields, f)
		}
		docs = append(docs, d)
	}

	sort.Slice(docs, func(i, j int) bool {
		c := 0
		if !byID {
			c = Compare(docs[i].Fields[q.OrderBy], docs[j].Fields[q.OrderBy])
		}
		if c == 0 {
			c = strings.Compare(sortKey(docs[i], scope), sortKey(docs[j], scope))
		}
		if q.Direction == Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func pastCursor(key string, q Query) bool {
	if q.Direction == Descending {
		return key < q.StartAfter
	}
	return key > q.StartAfter
}

// sortKey is the intrinsic identifier order: the id within one collection,
// the full path across a collection group.
func sortKey(d *Document, scope Scope) string {
	if scope == ScopeGroup {
		return d.Path
	}
	return d.ID
}

func (m *Memory) document(path string, fields Fields) *Document {
	_, id, _ := Split(path)
	return &Document{Path: path, ID: id, Fields: cloneFields(fields)}
}
