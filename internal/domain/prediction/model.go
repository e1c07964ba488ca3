package prediction

import (
	"time"

	"github.com/sleeprisk/screening/internal/platform/docstore"
)

const (
	ownersCollection = "patients"
	collection       = "predictions"

	fieldOwnerID   = "ownerId"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
	fieldPayload   = "payload"
)

// Record is one completed analysis: the personal info snapshot, the rows sent
// for inference and the inference response, all inside Payload.
type Record struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
	Payload   map[string]any `json:"payload"`
}

func collectionPath(ownerID string) (string, error) {
	return docstore.Join(ownersCollection, ownerID, collection)
}

func recordPath(ownerID, id string) (string, error) {
	return docstore.Join(ownersCollection, ownerID, collection, id)
}

func newFields(ownerID string, payload map[string]any) docstore.Fields {
	return docstore.Fields{
		fieldOwnerID:   ownerID,
		fieldCreatedAt: docstore.ServerTimestamp,
		fieldPayload:   payload,
	}
}

func recordFromDocument(doc *docstore.Document) *Record {
	r := &Record{
		ID:      doc.ID,
		OwnerID: docstore.OwnerOf(doc.Path),
	}
	r.CreatedAt, _ = docstore.TimeValue(doc.Fields[fieldCreatedAt])
	if t, ok := docstore.TimeValue(doc.Fields[fieldUpdatedAt]); ok {
		r.UpdatedAt = &t
	}
	switch p := doc.Fields[fieldPayload].(type) {
	case map[string]any:
		r.Payload = p
	case docstore.Fields:
		r.Payload = map[string]any(p)
	default:
		r.Payload = map[string]any{}
	}
	return r
}
