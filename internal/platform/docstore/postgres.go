package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgDB is the subset of *pgxpool.Pool the Postgres store uses.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres stores every document as one row of the documents table (see
// migrations/001_documents.sql), the body in a JSONB column.
//
// Ordering by a field needs an expression index named by IndexName; when it
// is absent the query fails with ErrIndexMissing instead of falling back to a
// sequential scan.
type Postgres struct {
	db      pgDB
	ceiling int
	now     func() time.Time
	known   sync.Map // index name -> struct{}
}

// NewPostgres returns a store over db enforcing the given byte ceiling.
func NewPostgres(db pgDB, ceiling int) *Postgres {
	if ceiling <= 0 {
		ceiling = DefaultByteCeiling
	}
	return &Postgres{db: db, ceiling: ceiling, now: time.Now}
}

// IndexName is the name an ordering index on collection.field must carry.
func IndexName(collection, field string, scope Scope) string {
	return strings.ToLower(fmt.Sprintf("docs_%s_%s_%s_idx", collection, field, scope))
}

// CreateIndex builds the expression index that ordered queries on
// collection.field within scope look for.
func (p *Postgres) CreateIndex(ctx context.Context, collection, field string, scope Scope) error {
	if !fieldPattern.MatchString(collection) || !fieldPattern.MatchString(field) {
		return fmt.Errorf("index %s.%s: %w", collection, field, ErrInvalidPath)
	}
	name := IndexName(collection, field, scope)
	var cols string
	switch scope {
	case ScopeOwner:
		cols = fmt.Sprintf("parent_path, (data->'%s'), doc_id", field)
	case ScopeGroup:
		cols = fmt.Sprintf("(data->'%s'), path", field)
	default:
		return fmt.Errorf("unknown index scope %q", scope)
	}
	sql := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON documents (%s) WHERE collection = '%s'`, name, cols, collection)
	if _, err := p.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	p.known.Store(name, struct{}{})
	return nil
}

// ListIndexes returns the names of the ordering indexes present.
func (p *Postgres) ListIndexes(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT indexname FROM pg_indexes
		WHERE schemaname = current_schema() AND tablename = 'documents' AND indexname LIKE 'docs\_%' ORDER BY indexname`)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (p *Postgres) hasIndex(ctx context.Context, name string) (bool, error) {
	if _, ok := p.known.Load(name); ok {
		return true, nil
	}
	var exists bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND tablename = 'documents' AND indexname = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		p.known.Store(name, struct{}{})
	}
	return exists, nil
}

func (p *Postgres) encode(path string, fields Fields) ([]byte, int, error) {
	doc := resolveTimestamps(fields, p.now())
	size := Size(path, doc)
	if size > p.ceiling {
		return nil, 0, fmt.Errorf("%s is %d bytes, ceiling %d: %w", path, size, p.ceiling, ErrDocumentTooLarge)
	}
	body, err := json.Marshal(toJSONValue(doc))
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s: %w", path, err)
	}
	return body, size, nil
}

type rowKeys struct {
	collection, parent, owner, id string
}

func keysFor(path string) (rowKeys, error) {
	if err := validateDocumentPath(path); err != nil {
		return rowKeys{}, err
	}
	parent, id, err := Split(path)
	if err != nil {
		return rowKeys{}, err
	}
	return rowKeys{collection: CollectionName(parent), parent: parent, owner: OwnerOf(path), id: id}, nil
}

func (p *Postgres) Put(ctx context.Context, path string, fields Fields) error {
	k, err := keysFor(path)
	if err != nil {
		return err
	}
	body, size, err := p.encode(path, fields)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO documents (path, collection, parent_path, owner_id, doc_id, data, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, size_bytes = EXCLUDED.size_bytes, updated_at = NOW()`,
		path, k.collection, k.parent, k.owner, k.id, body, size)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

// Create inserts the document only if no row holds path.
func (p *Postgres) Create(ctx context.Context, path string, fields Fields) error {
	k, err := keysFor(path)
	if err != nil {
		return err
	}
	body, size, err := p.encode(path, fields)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `
		INSERT INTO documents (path, collection, parent_path, owner_id, doc_id, data, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (path) DO NOTHING`,
		path, k.collection, k.parent, k.owner, k.id, body, size)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}
	return nil
}

func (p *Postgres) Add(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	if err := validateCollectionPath(collectionPath); err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := p.Create(ctx, collectionPath+"/"+id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, path string) (*Document, error) {
	k, err := keysFor(path)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = p.db.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	fields, err := decodeFields(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &Document{Path: path, ID: k.id, Fields: fields}, nil
}

// Merge reads, merges and rewrites the row inside one transaction so
// concurrent merges on the same document serialize on the row lock.
func (p *Postgres) Merge(ctx context.Context, path string, fields Fields) error {
	if _, err := keysFor(path); err != nil {
		return err
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge %s: %w", path, err)
	}
	defer tx.Rollback(ctx)

	var body []byte
	err = tx.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, path).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	existing, err := decodeFields(body)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	merged := mergeFields(existing, resolveTimestamps(fields, p.now()))
	out, size, err := p.encode(path, merged)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE documents SET data = $2, size_bytes = $3, updated_at = NOW() WHERE path = $1`,
		path, out, size); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	if _, err := keysFor(path); err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, collectionPath string, q Query) ([]*Document, error) {
	if err := validateCollectionPath(collectionPath); err != nil {
		return nil, err
	}
	return p.query(ctx, CollectionName(collectionPath), ScopeOwner, collectionPath, q)
}

func (p *Postgres) QueryAcrossOwners(ctx context.Context, collection string, q Query) ([]*Document, error) {
	if strings.Contains(collection, "/") {
		return nil, fmt.Errorf("collection group %q: %w", collection, ErrInvalidPath)
	}
	return p.query(ctx, collection, ScopeGroup, "", q)
}

// query reads collection, under parentPath when scope is ScopeOwner.
func (p *Postgres) query(ctx context.Context, collection string, scope Scope, parentPath string, q Query) ([]*Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if !q.byID() {
		name := IndexName(collection, q.OrderBy, scope)
		ok, err := p.hasIndex(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrIndexMissing)
		}
	}

	sql, args := buildQuery(collection, scope, parentPath, q)
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		var body []byte
		if err := rows.Scan(&d.Path, &d.ID, &body); err != nil {
			return nil, err
		}
		if d.Fields, err = decodeFields(body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Path, err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// buildQuery renders q as SQL. The collection predicate is always present so
// the partial ordering indexes (WHERE collection = ...) can serve the query.
func buildQuery(collection string, scope Scope, parentPath string, q Query) (string, []any) {
	args := []any{collection}
	where := []string{"collection = $1"}
	if scope == ScopeOwner {
		args = append(args, parentPath)
		where = append(where, fmt.Sprintf("parent_path = $%d", len(args)))
	}
	if !q.byID() {
		where = append(where, fmt.Sprintf("data ? '%s'", q.OrderBy))
	}
	if q.StartAfter != "" {
		op := ">"
		if q.Direction == Descending {
			op = "<"
		}
		args = append(args, q.StartAfter)
		where = append(where, fmt.Sprintf("%s %s $%d", idColumn(scope), op, len(args)))
	}

	body := "data"
	if len(q.Omit) > 0 {
		args = append(args, q.Omit)
		body = fmt.Sprintf("data - $%d::text[]", len(args))
	}

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT path, doc_id, %s FROM documents WHERE %s ORDER BY %s LIMIT $%d`,
		body, strings.Join(where, " AND "), orderClause(q, scope), len(args))
	return sql, args
}

func idColumn(scope Scope) string {
	if scope == ScopeGroup {
		return "path"
	}
	return "doc_id"
}

func orderClause(q Query, scope Scope) string {
	dir := strings.ToUpper(q.Direction.String())
	idCol := idColumn(scope)
	if q.byID() {
		return fmt.Sprintf("%s %s", idCol, dir)
	}
	return fmt.Sprintf("data->'%s' %s, %s %s", q.OrderBy, dir, idCol, dir)
}

// toJSONValue rewrites timestamps into TimeLayout strings so JSONB ordering
// on them is chronological.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return FormatTime(t)
	case Fields:
		return toJSONValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toJSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJSONValue(e)
		}
		return out
	default:
		return v
	}
}

func decodeFields(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return f, nil
}
