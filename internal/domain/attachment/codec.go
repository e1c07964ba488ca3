package attachment

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/sleeprisk/screening/pkg/apperrors"
)

// DefaultMimeType is recorded when the upload does not say what it is.
const DefaultMimeType = "application/pdf"

var encoding = base64.StdEncoding

// Encode reads the whole file and returns its base64 text and the mime type
// to record. Empty or unreadable input fails with ErrEncodingFailure before
// anything is written.
func Encode(r io.Reader, mimeType string) (string, string, error) {
	if r == nil {
		return "", "", fmt.Errorf("no file: %w", apperrors.ErrEncodingFailure)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("read file: %v: %w", err, apperrors.ErrEncodingFailure)
	}
	if len(raw) == 0 {
		return "", "", fmt.Errorf("empty file: %w", apperrors.ErrEncodingFailure)
	}
	return encoding.EncodeToString(raw), normalizeMimeType(mimeType), nil
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	raw, err := encoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %v: %w", err, apperrors.ErrEncodingFailure)
	}
	return raw, nil
}

// DecodeSize is the decoded length of text, computed from its length and
// padding alone.
func DecodeSize(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	if n%4 != 0 {
		return n * 3 / 4
	}
	size := n / 4 * 3
	if text[n-1] == '=' {
		size--
		if text[n-2] == '=' {
			size--
		}
	}
	return size
}

// EncodedSize is the length of the encoding of n bytes.
func EncodedSize(n int) int {
	return encoding.EncodedLen(n)
}

func normalizeMimeType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		return DefaultMimeType
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return DefaultMimeType
	}
	return mt
}
