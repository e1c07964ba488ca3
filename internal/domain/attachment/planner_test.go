package attachment

import (
	"errors"
	"strings"
	"testing"

	"github.com/sleeprisk/screening/pkg/apperrors"
)

func TestPlan_ThresholdBoundary(t *testing.T) {
	const limit = 3000
	at := encoding.EncodeToString(randomBytes(limit, 1))
	if s := Plan(at, limit, limit); s.Mode != Inline || s.Payload != at {
		t.Errorf("payload of exactly the limit should be inline, got %s", s.Mode)
	}

	over := encoding.EncodeToString(randomBytes(limit+1, 1))
	s := Plan(over, limit, limit)
	if s.Mode != Chunked {
		t.Fatalf("payload one byte over the limit should be chunked, got %s", s.Mode)
	}
	if len(s.Segments) < 2 {
		t.Errorf("expected at least 2 segments, got %d", len(s.Segments))
	}
}

func TestPlan_SegmentCountAndSizes(t *testing.T) {
	encoded := encoding.EncodeToString(randomBytes(10000, 2))
	const chunk = 999
	s := Plan(encoded, 0, chunk)
	want := (len(encoded) + chunk - 1) / chunk
	if len(s.Segments) != want {
		t.Fatalf("expected %d segments, got %d", want, len(s.Segments))
	}
	for i, seg := range s.Segments[:len(s.Segments)-1] {
		if len(seg) != chunk {
			t.Errorf("segment %d has %d chars, want %d", i, len(seg), chunk)
		}
	}
	if last := s.Segments[len(s.Segments)-1]; len(last) == 0 || len(last) > chunk {
		t.Errorf("last segment has %d chars", len(last))
	}
}

func TestPlan_OrderMatters(t *testing.T) {
	encoded := encoding.EncodeToString(randomBytes(5000, 3))
	s := Plan(encoded, 0, 1000)
	if strings.Join(s.Segments, "") != encoded {
		t.Fatal("ascending concatenation must reproduce the encoding")
	}

	swapped := append([]string(nil), s.Segments...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	if strings.Join(swapped, "") == encoded {
		t.Error("out-of-order concatenation must not reproduce the encoding")
	}

	reversed := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		reversed[len(s.Segments)-1-i] = seg
	}
	if strings.Join(reversed, "") == encoded {
		t.Error("reversed concatenation must not reproduce the encoding")
	}
}

func TestLimits_Validate(t *testing.T) {
	ok := Limits{InlineLimit: 600 * 1024, ChunkSize: 600 * 1024, Ceiling: 1 << 20}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected default limits to be valid: %v", err)
	}

	if err := (Limits{InlineLimit: 99, ChunkSize: 135, Ceiling: 1 << 20}).Validate(); err != nil {
		t.Errorf("chunk one character short of the smallest chunked encoding: %v", err)
	}

	tests := []struct {
		name string
		l    Limits
		want error
	}{
		{"zero inline", Limits{InlineLimit: 0, ChunkSize: 10, Ceiling: 1 << 20}, apperrors.ErrInvalidInput},
		{"zero chunk", Limits{InlineLimit: 10, ChunkSize: 0, Ceiling: 1 << 20}, apperrors.ErrInvalidInput},
		{"inline encodes over ceiling", Limits{InlineLimit: 800 * 1024, ChunkSize: 1000, Ceiling: 1 << 20}, apperrors.ErrByteCeilingRisk},
		{"chunk over ceiling", Limits{InlineLimit: 1000, ChunkSize: 1 << 20, Ceiling: 1 << 20}, apperrors.ErrByteCeilingRisk},
		{"tiny ceiling", Limits{InlineLimit: 1, ChunkSize: 1, Ceiling: 100}, apperrors.ErrByteCeilingRisk},
		{"chunk swallows smallest chunked file", Limits{InlineLimit: 100, ChunkSize: 700000, Ceiling: 1 << 20}, apperrors.ErrInvalidInput},
		{"chunk equals smallest chunked encoding", Limits{InlineLimit: 99, ChunkSize: 136, Ceiling: 1 << 20}, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.l.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
