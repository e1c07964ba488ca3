package attachment

import (
	"fmt"

	"github.com/sleeprisk/screening/pkg/apperrors"
)

// Mode is how an attachment payload is laid out in the store.
type Mode int

const (
	Inline Mode = iota
	Chunked
)

func (m Mode) String() string {
	if m == Chunked {
		return "chunked"
	}
	return "inline"
}

// Strategy is the output of Plan. Payload is set for Inline, Segments for
// Chunked.
type Strategy struct {
	Mode     Mode
	Payload  string
	Segments []string
}

// Plan stores the payload inline when its decoded size is at most
// inlineLimit, and otherwise splits the encoded text into consecutive
// segments of at most chunkSize characters.
func Plan(encoded string, inlineLimit, chunkSize int) Strategy {
	if DecodeSize(encoded) <= inlineLimit {
		return Strategy{Mode: Inline, Payload: encoded}
	}
	if chunkSize <= 0 {
		chunkSize = len(encoded)
	}
	segments := make([]string, 0, (len(encoded)+chunkSize-1)/chunkSize)
	for start := 0; start < len(encoded); start += chunkSize {
		end := start + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		segments = append(segments, encoded[start:end])
	}
	return Strategy{Mode: Chunked, Segments: segments}
}

// Limits are the byte bounds an upload is planned against.
type Limits struct {
	// InlineLimit is compared against the decoded payload size.
	InlineLimit int
	// ChunkSize is a count of encoded characters.
	ChunkSize int
	// Ceiling is the store's per-document byte limit.
	Ceiling int
}

// MetadataHeadroom is reserved in every document for fields other than the
// payload.
const MetadataHeadroom = 4096

// Validate checks that an inline document and a chunk document both fit
// under the ceiling with headroom to spare, and that every chunked file
// splits into at least two chunks.
func (l Limits) Validate() error {
	switch {
	case l.InlineLimit <= 0:
		return fmt.Errorf("inline limit must be positive: %w", apperrors.ErrInvalidInput)
	case l.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive: %w", apperrors.ErrInvalidInput)
	case l.Ceiling <= MetadataHeadroom:
		return fmt.Errorf("byte ceiling %d leaves no room for payloads: %w", l.Ceiling, apperrors.ErrByteCeilingRisk)
	case EncodedSize(l.InlineLimit)+MetadataHeadroom > l.Ceiling:
		return fmt.Errorf("inline limit %d encodes to %d bytes, ceiling %d: %w",
			l.InlineLimit, EncodedSize(l.InlineLimit), l.Ceiling, apperrors.ErrByteCeilingRisk)
	case l.ChunkSize+MetadataHeadroom > l.Ceiling:
		return fmt.Errorf("chunk size %d, ceiling %d: %w", l.ChunkSize, l.Ceiling, apperrors.ErrByteCeilingRisk)
	case l.ChunkSize >= EncodedSize(l.InlineLimit+1):
		return fmt.Errorf("chunk size %d would store a file just over the inline limit %d as a single chunk: %w",
			l.ChunkSize, l.InlineLimit, apperrors.ErrInvalidInput)
	}
	return nil
}
