// Package docstore is the narrow document-database contract the screening
// core is written against: key-path CRUD plus ordered, limited queries over
// one collection or across every owner's collection of the same name.
//
// Two backends ship with it. Memory keeps documents in process and can
// simulate missing indexes; Postgres stores documents as JSONB rows and
// reports a missing expression index as ErrIndexMissing.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sleeprisk/screening/pkg/apperrors"
)

var (
	// ErrNotFound is returned by Get and Merge for an absent document.
	ErrNotFound = apperrors.ErrNotFound
	// ErrIndexMissing is returned by ordered queries when the index the
	// ordering needs has not been created. Ordering by DocumentID never
	// needs one.
	ErrIndexMissing = apperrors.ErrIndexMissing
	// ErrDocumentTooLarge is a store-side rejection of a write above the
	// per-document byte ceiling.
	ErrDocumentTooLarge = fmt.Errorf("document too large: %w", apperrors.ErrByteCeilingRisk)
	// ErrAlreadyExists is returned by Create when the path is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = fmt.Errorf("invalid document path: %w", apperrors.ErrInvalidInput)
)

// DefaultByteCeiling is the per-document limit assumed when none is configured.
const DefaultByteCeiling = 1 << 20

// DocumentID orders a query by the store's intrinsic document identifier.
const DocumentID = "__name__"

// Fields is the body of a document.
type Fields map[string]any

// Document is a stored document as returned by reads.
type Document struct {
	Path   string
	ID     string
	Fields Fields
}

// Direction is a query sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Query describes an ordered, limited read. Limit <= 0 means unbounded.
type Query struct {
	OrderBy   string
	Direction Direction
	Limit     int
	// StartAfter resumes a DocumentID-ordered read after the given key: the
	// document id within one collection, the full path across owners.
	StartAfter string
	// Omit lists top-level fields left out of the returned documents.
	Omit []string
}

func (q Query) byID() bool {
	return q.OrderBy == "" || q.OrderBy == DocumentID
}

func (q Query) validate() error {
	if err := validateField(q.OrderBy); err != nil {
		return err
	}
	if q.StartAfter != "" && !q.byID() {
		return fmt.Errorf("cursor on %s ordering: %w", q.OrderBy, apperrors.ErrInvalidInput)
	}
	for _, f := range q.Omit {
		if !fieldPattern.MatchString(f) {
			return fmt.Errorf("omitted field %q: %w", f, apperrors.ErrInvalidInput)
		}
	}
	return nil
}

// Scope tells an index whether it serves queries under one owner or a
// collection-group query across all owners.
type Scope string

const (
	ScopeOwner Scope = "owner"
	ScopeGroup Scope = "group"
)

// Client is the operation set the screening core consumes.
type Client interface {
	Put(ctx context.Context, path string, fields Fields) error
	// Add writes a new document under collectionPath with a store-assigned id.
	Add(ctx context.Context, collectionPath string, fields Fields) (string, error)
	Get(ctx context.Context, path string) (*Document, error)
	Merge(ctx context.Context, path string, fields Fields) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, collectionPath string, q Query) ([]*Document, error)
	QueryAcrossOwners(ctx context.Context, collection string, q Query) ([]*Document, error)
}

// Creator is implemented by stores with create-if-absent writes.
type Creator interface {
	Create(ctx context.Context, path string, fields Fields) error
}

var (
	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	fieldPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Join builds a path from its segments, rejecting empty segments and
// segments containing separators.
func Join(segments ...string) (string, error) {
	for _, s := range segments {
		if !segmentPattern.MatchString(s) {
			return "", fmt.Errorf("segment %q: %w", s, ErrInvalidPath)
		}
	}
	return strings.Join(segments, "/"), nil
}

// IsDocumentPath reports whether path addresses a document (even segment
// count) rather than a collection.
func IsDocumentPath(path string) bool {
	segs := strings.Split(path, "/")
	return len(segs) >= 2 && len(segs)%2 == 0
}

// Split returns the parent collection path and the document id.
func Split(path string) (collectionPath, id string, err error) {
	if !IsDocumentPath(path) {
		return "", "", fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}
	i := strings.LastIndex(path, "/")
	return path[:i], path[i+1:], nil
}

// CollectionName is the last segment of a collection path.
func CollectionName(collectionPath string) string {
	return collectionPath[strings.LastIndex(collectionPath, "/")+1:]
}

// OwnerOf returns the root document id of a path, which is the tenant that
// owns every document beneath it.
func OwnerOf(path string) string {
	segs := strings.SplitN(path, "/", 3)
	if len(segs) < 2 {
		return ""
	}
	return segs[1]
}

func validateDocumentPath(path string) error {
	if !IsDocumentPath(path) {
		return fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}
	_, err := Join(strings.Split(path, "/")...)
	return err
}

func validateCollectionPath(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 1 {
		return fmt.Errorf("%q is not a collection: %w", path, ErrInvalidPath)
	}
	_, err := Join(segs...)
	return err
}

func validateField(field string) error {
	if field == "" || field == DocumentID || fieldPattern.MatchString(field) {
		return nil
	}
	return fmt.Errorf("order field %q: %w", field, apperrors.ErrInvalidInput)
}
