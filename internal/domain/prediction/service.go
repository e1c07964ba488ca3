package prediction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sleeprisk/screening/internal/platform/docstore"
	"github.com/sleeprisk/screening/pkg/apperrors"
)

// Access is the identity collaborator: who is an administrator and who may
// act on an owner's records.
type Access interface {
	Admin(ctx context.Context) bool
	Allows(ctx context.Context, ownerID string) bool
}

// Service creates, updates and lists prediction records.
//
// Upsert never overwrites an existing record. When the store implements
// docstore.Creator the existence check and the write are one operation;
// otherwise it is a read followed by a write, and two upserts racing on the
// same candidate id can both see it free, in which case the later write
// wins.
type Service struct {
	store   docstore.Client
	access  Access
	ceiling int
	logger  zerolog.Logger
	newID   func() string
}

func NewService(store docstore.Client, access Access, ceiling int, logger zerolog.Logger) *Service {
	if ceiling <= 0 {
		ceiling = docstore.DefaultByteCeiling
	}
	return &Service{
		store:   store,
		access:  access,
		ceiling: ceiling,
		logger:  logger.With().Str("component", "predictions").Logger(),
		newID:   func() string { return uuid.New().String() },
	}
}

// prepare strips binary-like content and checks the record fits.
func (s *Service) prepare(path, ownerID string, payload map[string]any) (docstore.Fields, error) {
	clean, removed := stripBinary(payload)
	if len(removed) > 0 {
		s.logger.Warn().Str("path", path).Strs("fields", removed).Msg("dropped binary content from prediction payload")
	}
	fields := newFields(ownerID, clean)
	if size := docstore.Size(path, fields); size > s.ceiling {
		return nil, fmt.Errorf("prediction record of %d bytes, ceiling %d: %w", size, s.ceiling, apperrors.ErrByteCeilingRisk)
	}
	return fields, nil
}

// Create writes payload under a fresh random id.
func (s *Service) Create(ctx context.Context, ownerID string, payload map[string]any) (string, error) {
	id := s.newID()
	path, err := recordPath(ownerID, id)
	if err != nil {
		return "", err
	}
	fields, err := s.prepare(path, ownerID, payload)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, path, fields); err != nil {
		return "", fmt.Errorf("write prediction: %w", err)
	}
	s.logger.Debug().Str("owner_id", ownerID).Str("prediction_id", id).Msg("prediction created")
	return id, nil
}

// Upsert writes payload under candidateID if that id is free and under a
// newly minted id otherwise. The id written is returned. An empty candidate
// behaves like Create.
func (s *Service) Upsert(ctx context.Context, ownerID, candidateID string, payload map[string]any) (string, error) {
	if candidateID == "" {
		return s.Create(ctx, ownerID, payload)
	}
	path, err := recordPath(ownerID, candidateID)
	if err != nil {
		return "", err
	}
	fields, err := s.prepare(path, ownerID, payload)
	if err != nil {
		return "", err
	}

	written, err := s.writeIfAbsent(ctx, path, fields)
	if err != nil {
		return "", err
	}
	if written {
		return candidateID, nil
	}

	id := s.newID()
	s.logger.Info().Str("owner_id", ownerID).Str("candidate_id", candidateID).
		Str("prediction_id", id).Msg("candidate id already used, writing under a new id")
	newPath, err := recordPath(ownerID, id)
	if err != nil {
		return "", err
	}
	written, err = s.writeIfAbsent(ctx, newPath, fields)
	if err != nil {
		return "", err
	}
	if !written {
		return "", fmt.Errorf("minted id %s already in use", id)
	}
	return id, nil
}

// writeIfAbsent reports false, with no error, when path already exists.
func (s *Service) writeIfAbsent(ctx context.Context, path string, fields docstore.Fields) (bool, error) {
	if c, ok := s.store.(docstore.Creator); ok {
		err := c.Create(ctx, path, fields)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, docstore.ErrAlreadyExists):
			return false, nil
		default:
			return false, fmt.Errorf("write prediction: %w", err)
		}
	}

	_, err := s.store.Get(ctx, path)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, docstore.ErrNotFound):
		return false, fmt.Errorf("check prediction: %w", err)
	}
	if err := s.store.Put(ctx, path, fields); err != nil {
		return false, fmt.Errorf("write prediction: %w", err)
	}
	return true, nil
}

// Get reads one record.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Record, error) {
	path, err := recordPath(ownerID, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", id, err)
	}
	return recordFromDocument(doc), nil
}

func (s *Service) authorize(ctx context.Context, ownerID, action string) error {
	if s.access == nil || !s.access.Allows(ctx, ownerID) {
		return fmt.Errorf("%s prediction of %s: %w", action, ownerID, apperrors.ErrPermissionDenied)
	}
	return nil
}

// Update merges partial into the record's payload. Only the owner or an
// administrator may update.
func (s *Service) Update(ctx context.Context, ownerID, id string, partial map[string]any) error {
	if err := s.authorize(ctx, ownerID, "update"); err != nil {
		return err
	}
	path, err := recordPath(ownerID, id)
	if err != nil {
		return err
	}
	current, err := s.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("prediction %s: %w", id, err)
	}

	clean, removed := stripBinary(partial)
	if len(removed) > 0 {
		s.logger.Warn().Str("path", path).Strs("fields", removed).Msg("dropped binary content from prediction update")
	}
	patch := docstore.Fields{fieldPayload: clean, fieldUpdatedAt: docstore.ServerTimestamp}
	if size := docstore.Size(path, current.Fields) + docstore.Size("", patch); size > s.ceiling {
		return fmt.Errorf("updated prediction could reach %d bytes, ceiling %d: %w", size, s.ceiling, apperrors.ErrByteCeilingRisk)
	}
	if err := s.store.Merge(ctx, path, patch); err != nil {
		return fmt.Errorf("update prediction %s: %w", id, err)
	}
	return nil
}

// Delete removes the record. Only the owner or an administrator may delete.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.authorize(ctx, ownerID, "delete"); err != nil {
		return err
	}
	path, err := recordPath(ownerID, id)
	if err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, path); err != nil {
		return fmt.Errorf("prediction %s: %w", id, err)
	}
	if err := s.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete prediction %s: %w", id, err)
	}
	return nil
}
