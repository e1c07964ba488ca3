package attachment

import (
	"fmt"
	"time"

	"github.com/sleeprisk/screening/internal/platform/docstore"
)

const (
	ownersCollection = "patients"
	collection       = "attachments"
	chunkCollection  = "chunks"
)

// Record is the metadata document of one uploaded file. Inline payloads
// live in the same document; chunked ones in its chunks subcollection.
type Record struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mimeType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Chunked     bool      `json:"chunked"`
	TotalChunks int       `json:"totalChunks"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ready reports whether the record declares a complete payload. A chunked
// record still at zero chunks is mid-upload.
func (r *Record) Ready() bool {
	return !r.Chunked || r.TotalChunks > 0
}

// Chunk is one slice of a chunked payload.
type Chunk struct {
	Index   int
	Payload string
}

// Blob is a reconstructed attachment.
type Blob struct {
	Data     []byte
	MimeType string
	Name     string
}

// Status is the user-visible state of an attachment.
type Status string

const (
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
)

func collectionPath(ownerID string) (string, error) {
	return docstore.Join(ownersCollection, ownerID, collection)
}

func recordPath(ownerID, id string) (string, error) {
	return docstore.Join(ownersCollection, ownerID, collection, id)
}

func chunksPath(ownerID, id string) (string, error) {
	return docstore.Join(ownersCollection, ownerID, collection, id, chunkCollection)
}

// chunkID zero-pads the index so identifier order is index order.
func chunkID(index int) string {
	return fmt.Sprintf("%06d", index)
}

func (r *Record) fields() docstore.Fields {
	return docstore.Fields{
		"ownerId":     r.OwnerID,
		"name":        r.Name,
		"mimeType":    r.MimeType,
		"sizeBytes":   r.SizeBytes,
		"chunked":     r.Chunked,
		"totalChunks": r.TotalChunks,
		"createdAt":   docstore.ServerTimestamp,
	}
}

func recordFromDocument(doc *docstore.Document) *Record {
	r := &Record{
		ID:      doc.ID,
		OwnerID: docstore.OwnerOf(doc.Path),
	}
	r.Name, _ = doc.Fields["name"].(string)
	r.MimeType, _ = doc.Fields["mimeType"].(string)
	r.Chunked, _ = doc.Fields["chunked"].(bool)
	r.SizeBytes, _ = docstore.IntValue(doc.Fields["sizeBytes"])
	if n, ok := docstore.IntValue(doc.Fields["totalChunks"]); ok {
		r.TotalChunks = int(n)
	}
	r.CreatedAt, _ = docstore.TimeValue(doc.Fields["createdAt"])
	if r.MimeType == "" {
		r.MimeType = DefaultMimeType
	}
	return r
}

func chunkFromDocument(doc *docstore.Document) (Chunk, bool) {
	idx, ok := docstore.IntValue(doc.Fields["index"])
	if !ok {
		return Chunk{}, false
	}
	payload, ok := doc.Fields["payload"].(string)
	return Chunk{Index: int(idx), Payload: payload}, ok
}
