package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Confidence bounds for transcript segments. Provider output outside
// these bounds is clamped, never rejected.
const (
	MinSegmentConfidence = 0.01
	MaxSegmentConfidence = 1.0
)

// TranscriptSegment is one ordered piece of transcript text produced by
// a job. Segments are exclusively owned by the job that produced them
// and replaced wholesale on reprocessing.
type TranscriptSegment struct {
	ID         string  `json:"id"`
	JobID      string  `json:"job_id"`
	OrderIndex int     `json:"order_index"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Version    int     `json:"version"` // incremented on regeneration
}

// NewTranscriptSegment builds a segment for a job with confidence clamped.
func NewTranscriptSegment(jobID string, orderIndex int, startSec, endSec float64, text string, confidence float64) *TranscriptSegment {
	return &TranscriptSegment{
		ID:         uuid.New().String(),
		JobID:      jobID,
		OrderIndex: orderIndex,
		StartSec:   startSec,
		EndSec:     endSec,
		Text:       text,
		Confidence: ClampConfidence(confidence),
		Version:    1,
	}
}

// ClampConfidence forces a confidence value into [0.01, 1.0]
func ClampConfidence(c float64) float64 {
	if c < MinSegmentConfidence {
		return MinSegmentConfidence
	}
	if c > MaxSegmentConfidence {
		return MaxSegmentConfidence
	}
	return c
}

// Validate checks segment field invariants before persistence
func (s *TranscriptSegment) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("segment %d: empty text", s.OrderIndex)
	}
	if s.OrderIndex < 0 {
		return fmt.Errorf("segment %d: negative order index", s.OrderIndex)
	}
	if s.StartSec < 0 {
		return fmt.Errorf("segment %d: negative start %.3f", s.OrderIndex, s.StartSec)
	}
	if s.EndSec < s.StartSec {
		return fmt.Errorf("segment %d: end %.3f before start %.3f", s.OrderIndex, s.EndSec, s.StartSec)
	}
	if s.Confidence < MinSegmentConfidence || s.Confidence > MaxSegmentConfidence {
		return fmt.Errorf("segment %d: confidence %.3f out of range", s.OrderIndex, s.Confidence)
	}
	return nil
}

// ValidateSegmentOrder checks that a sequence of segments carries
// strictly increasing, duplicate-free order indexes.
func ValidateSegmentOrder(segments []*TranscriptSegment) error {
	last := -1
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
		if seg.OrderIndex <= last {
			return fmt.Errorf("segment order not strictly increasing at index %d", seg.OrderIndex)
		}
		last = seg.OrderIndex
	}
	return nil
}
