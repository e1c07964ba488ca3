package prediction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sleeprisk/screening/internal/platform/docstore"
	"github.com/sleeprisk/screening/pkg/apperrors"
)

// ownerFanout bounds concurrent per-owner listings in ListForOwners.
const ownerFanout = 8

type queryFunc func(ctx context.Context, q docstore.Query) ([]*docstore.Document, error)

// newestFirst asks the store for the newest limit documents by createdAt.
// If the store lacks the index for that ordering it takes the first limit
// documents in identifier order instead and sorts them here. The result is
// still newest first, but when more than limit documents exist it is drawn
// from a different window.
func newestFirst(ctx context.Context, run queryFunc, limit int, log zerolog.Logger) ([]*docstore.Document, error) {
	docs, err := run(ctx, docstore.Query{OrderBy: fieldCreatedAt, Direction: docstore.Descending, Limit: limit})
	if err == nil {
		return docs, nil
	}
	if !errors.Is(err, docstore.ErrIndexMissing) {
		return nil, err
	}

	log.Warn().Err(err).Msg("createdAt index missing, sorting by createdAt in process")
	docs, err = run(ctx, docstore.Query{OrderBy: docstore.DocumentID, Direction: docstore.Ascending, Limit: limit})
	if err != nil {
		return nil, err
	}
	return sortNewestFirst(docs), nil
}

// sortNewestFirst orders like the indexed query: createdAt descending, ties
// by path descending. Documents without createdAt are dropped, as an ordered
// query would never return them.
func sortNewestFirst(docs []*docstore.Document) []*docstore.Document {
	out := docs[:0]
	for _, d := range docs {
		if _, ok := d.Fields[fieldCreatedAt]; ok {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compareCreated(out[i].Fields[fieldCreatedAt], out[j].Fields[fieldCreatedAt])
		if c == 0 {
			c = strings.Compare(out[i].Path, out[j].Path)
		}
		return c > 0
	})
	return out
}

func compareCreated(a, b any) int {
	ta, aok := docstore.TimeValue(a)
	tb, bok := docstore.TimeValue(b)
	if aok && bok {
		return ta.Compare(tb)
	}
	return docstore.Compare(a, b)
}

func records(docs []*docstore.Document) []*Record {
	out := make([]*Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, recordFromDocument(d))
	}
	return out
}

func checkLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d: %w", limit, apperrors.ErrInvalidInput)
	}
	return nil
}

// ListForOwner returns the owner's newest records.
func (s *Service) ListForOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	col, err := collectionPath(ownerID)
	if err != nil {
		return nil, err
	}
	run := func(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
		return s.store.Query(ctx, col, q)
	}
	docs, err := newestFirst(ctx, run, limit, s.logger.With().Str("owner_id", ownerID).Logger())
	if err != nil {
		return nil, fmt.Errorf("list predictions of %s: %w", ownerID, err)
	}
	return records(docs), nil
}

// ListAll returns the newest records across every owner. Administrators only.
func (s *Service) ListAll(ctx context.Context, limit int) ([]*Record, error) {
	if s.access == nil || !s.access.Admin(ctx) {
		return nil, fmt.Errorf("list all predictions: %w", apperrors.ErrPermissionDenied)
	}
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
		return s.store.QueryAcrossOwners(ctx, collection, q)
	}
	docs, err := newestFirst(ctx, run, limit, s.logger.With().Str("scope", "all").Logger())
	if err != nil {
		return nil, fmt.Errorf("list all predictions: %w", err)
	}
	return records(docs), nil
}

// ListForOwners lists several owners concurrently. Administrators only. The
// first failure cancels the rest.
func (s *Service) ListForOwners(ctx context.Context, ownerIDs []string, limit int) (map[string][]*Record, error) {
	if s.access == nil || !s.access.Admin(ctx) {
		return nil, fmt.Errorf("list predictions of several owners: %w", apperrors.ErrPermissionDenied)
	}
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	results := make([][]*Record, len(ownerIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerFanout)
	for i, owner := range ownerIDs {
		g.Go(func() error {
			recs, err := s.ListForOwner(gctx, owner, limit)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]*Record, len(ownerIDs))
	for i, owner := range ownerIDs {
		out[owner] = results[i]
	}
	return out, nil
}
