package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sleeprisk/screening/internal/platform/docstore"
	"github.com/sleeprisk/screening/pkg/apperrors"
)

// reservedIDBytes bounds the length of a store-assigned id. Documents are
// sized before their id exists, so this much path is assumed for it.
const reservedIDBytes = 64

// scanPage is the number of records FindIncomplete reads per round trip.
const scanPage = 200

// metadataOnly leaves inline payloads out of list reads.
var metadataOnly = []string{"payload"}

// Service writes attachments into the document store, inline or chunked,
// and reconstructs them on read.
//
// A chunked upload is three steps: the record is reserved with
// totalChunks=0, the chunks are written in index order, then totalChunks is
// set. None of it is transactional. A reader that finds totalChunks=0, or
// fewer chunk documents than declared, gets ErrAttachmentNotReady.
type Service struct {
	store  docstore.Client
	limits Limits
	logger zerolog.Logger
}

func NewService(store docstore.Client, limits Limits, logger zerolog.Logger) *Service {
	if limits.Ceiling <= 0 {
		limits.Ceiling = docstore.DefaultByteCeiling
	}
	return &Service{store: store, limits: limits, logger: logger.With().Str("component", "attachments").Logger()}
}

// Upload encodes file and stores it under ownerID. The returned record is
// read back from the store so CreatedAt is the store's.
func (s *Service) Upload(ctx context.Context, file io.Reader, name, mimeType, ownerID string) (*Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("attachment name is required: %w", apperrors.ErrInvalidInput)
	}
	col, err := collectionPath(ownerID)
	if err != nil {
		return nil, err
	}
	encoded, mt, err := Encode(file, mimeType)
	if err != nil {
		return nil, err
	}

	plan := Plan(encoded, s.limits.InlineLimit, s.limits.ChunkSize)
	rec := &Record{
		OwnerID:   ownerID,
		Name:      name,
		MimeType:  mt,
		SizeBytes: int64(DecodeSize(encoded)),
		Chunked:   plan.Mode == Chunked,
	}

	var id string
	if plan.Mode == Inline {
		id, err = s.writeInline(ctx, col, rec, plan.Payload)
	} else {
		id, err = s.writeChunked(ctx, col, rec, plan.Segments)
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID, id)
}

func (s *Service) writeInline(ctx context.Context, col string, rec *Record, payload string) (string, error) {
	fields := rec.fields()
	fields["payload"] = payload
	if err := s.checkCeiling(col, reservedIDBytes+1, fields); err != nil {
		return "", err
	}
	id, err := s.store.Add(ctx, col, fields)
	if err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	s.logger.Debug().Str("owner_id", rec.OwnerID).Str("attachment_id", id).
		Int64("size_bytes", rec.SizeBytes).Msg("attachment stored inline")
	return id, nil
}

func (s *Service) writeChunked(ctx context.Context, col string, rec *Record, segments []string) (string, error) {
	reservation := rec.fields()
	if err := s.checkCeiling(col, reservedIDBytes+1, reservation); err != nil {
		return "", err
	}
	// Segments are cut to the same width, so the first is the largest.
	chunkPathLen := reservedIDBytes + len("/"+chunkCollection+"/") + len(chunkID(0)) + 1
	if err := s.checkCeiling(col, chunkPathLen, chunkFields(0, segments[0])); err != nil {
		return "", err
	}

	id, err := s.store.Add(ctx, col, reservation)
	if err != nil {
		return "", fmt.Errorf("reserve attachment: %w", err)
	}
	log := s.logger.With().Str("owner_id", rec.OwnerID).Str("attachment_id", id).Logger()
	log.Debug().Int("chunks", len(segments)).Msg("attachment reserved")

	chunks, err := chunksPath(rec.OwnerID, id)
	if err != nil {
		return "", err
	}
	for i, seg := range segments {
		if err := s.store.Put(ctx, chunks+"/"+chunkID(i), chunkFields(i, seg)); err != nil {
			log.Warn().Err(err).Int("chunk", i).Msg("chunk write failed, upload left incomplete")
			return "", fmt.Errorf("write chunk %d of %d for attachment %s: %w", i, len(segments), id, err)
		}
	}

	path, err := recordPath(rec.OwnerID, id)
	if err != nil {
		return "", err
	}
	if err := s.store.Merge(ctx, path, docstore.Fields{"totalChunks": len(segments)}); err != nil {
		return "", fmt.Errorf("finalize attachment %s: %w", id, err)
	}
	log.Debug().Int("chunks", len(segments)).Msg("attachment finalized")
	return id, nil
}

func chunkFields(index int, payload string) docstore.Fields {
	return docstore.Fields{"index": index, "payload": payload}
}

// checkCeiling rejects a document before it is written. pathExtra is the
// part of the path beyond col that is not known yet.
func (s *Service) checkCeiling(col string, pathExtra int, fields docstore.Fields) error {
	size := docstore.Size(col, fields) + pathExtra
	if size > s.limits.Ceiling {
		return fmt.Errorf("document of %d bytes under %s, ceiling %d: %w", size, col, s.limits.Ceiling, apperrors.ErrByteCeilingRisk)
	}
	return nil
}

// Get returns attachment metadata without the payload.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Record, error) {
	rec, _, err := s.read(ctx, ownerID, id)
	return rec, err
}

func (s *Service) read(ctx context.Context, ownerID, id string) (*Record, *docstore.Document, error) {
	path, err := recordPath(ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("attachment %s: %w", id, err)
	}
	return recordFromDocument(doc), doc, nil
}

// Fetch reconstructs the attachment. Chunk payloads are joined in ascending
// index order before decoding.
func (s *Service) Fetch(ctx context.Context, ownerID, id string) (*Blob, error) {
	rec, doc, err := s.read(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	var encoded string
	if rec.Chunked {
		encoded, err = s.assemble(ctx, rec)
		if err != nil {
			return nil, err
		}
	} else {
		payload, ok := doc.Fields["payload"].(string)
		if !ok || payload == "" {
			return nil, fmt.Errorf("attachment %s has no inline payload: %w", id, apperrors.ErrEncodingFailure)
		}
		encoded = payload
	}

	data, err := Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("attachment %s: %w", id, err)
	}
	return &Blob{Data: data, MimeType: rec.MimeType, Name: rec.Name}, nil
}

func (s *Service) assemble(ctx context.Context, rec *Record) (string, error) {
	if rec.TotalChunks == 0 {
		return "", fmt.Errorf("attachment %s is still uploading: %w", rec.ID, apperrors.ErrAttachmentNotReady)
	}
	chunks, err := s.chunks(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := checkChunks(rec, chunks); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(chunks) * s.limits.ChunkSize)
	for _, c := range chunks {
		b.WriteString(c.Payload)
	}
	return b.String(), nil
}

// checkChunks requires exactly indices 0..TotalChunks-1. chunks must be
// sorted by index.
func checkChunks(rec *Record, chunks []Chunk) error {
	if len(chunks) < rec.TotalChunks {
		return fmt.Errorf("attachment %s has %d of %d chunks: %w",
			rec.ID, len(chunks), rec.TotalChunks, apperrors.ErrAttachmentNotReady)
	}
	if len(chunks) > rec.TotalChunks {
		return fmt.Errorf("attachment %s has %d chunks, %d declared: %w",
			rec.ID, len(chunks), rec.TotalChunks, apperrors.ErrEncodingFailure)
	}
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("attachment %s: chunk %d missing: %w", rec.ID, i, apperrors.ErrAttachmentNotReady)
		}
	}
	return nil
}

func (s *Service) chunks(ctx context.Context, rec *Record) ([]Chunk, error) {
	path, err := chunksPath(rec.OwnerID, rec.ID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, path, docstore.Query{OrderBy: docstore.DocumentID, Direction: docstore.Ascending})
	if err != nil {
		return nil, fmt.Errorf("list chunks of %s: %w", rec.ID, err)
	}
	chunks := make([]Chunk, 0, len(docs))
	for _, d := range docs {
		c, ok := chunkFromDocument(d)
		if !ok {
			return nil, fmt.Errorf("chunk %s is malformed: %w", d.Path, apperrors.ErrEncodingFailure)
		}
		chunks = append(chunks, c)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// Status reports processing until every declared chunk is present. It
// applies the same chunk checks as Fetch, so ready means Fetch succeeds.
func (s *Service) Status(ctx context.Context, ownerID, id string) (Status, error) {
	rec, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	if !rec.Ready() {
		return StatusProcessing, nil
	}
	if rec.Chunked {
		chunks, err := s.chunks(ctx, rec)
		if err != nil {
			return "", err
		}
		err = checkChunks(rec, chunks)
		if errors.Is(err, apperrors.ErrAttachmentNotReady) {
			return StatusProcessing, nil
		}
		if err != nil {
			return "", err
		}
	}
	return StatusReady, nil
}

// ListForOwner returns the owner's attachment records, newest first. It
// orders by document id on the server and by createdAt here, so no index is
// needed. Inline payloads are left on the server.
func (s *Service) ListForOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error) {
	col, err := collectionPath(ownerID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, col, docstore.Query{OrderBy: docstore.DocumentID, Omit: metadataOnly})
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	records := make([]*Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, recordFromDocument(d))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// FindIncomplete scans every owner for reservations that were never
// finalized, one page of metadata at a time, and returns at most limit of
// them. It only reports them.
func (s *Service) FindIncomplete(ctx context.Context, limit int) ([]*Record, error) {
	var out []*Record
	q := docstore.Query{OrderBy: docstore.DocumentID, Limit: scanPage, Omit: metadataOnly}
	for {
		docs, err := s.store.QueryAcrossOwners(ctx, collection, q)
		if err != nil {
			return nil, fmt.Errorf("scan attachments: %w", err)
		}
		for _, d := range docs {
			rec := recordFromDocument(d)
			if rec.Ready() {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
		if len(docs) < scanPage {
			return out, nil
		}
		q.StartAfter = docs[len(docs)-1].Path
	}
}
