package provider

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/signflow/signflow/pkg/models"
)

const (
	// artifactSegmentSpan is the synthetic duration assigned to
	// transcript lines that carry no timing of their own.
	artifactSegmentSpan = 3.5

	// transcriptLineConfidence is assigned to segments built from a
	// plain transcript.txt artifact.
	transcriptLineConfidence = 0.84
)

// artifactSegment is one entry of a segments.json artifact
type artifactSegment struct {
	Text       string   `json:"text"`
	StartSec   *float64 `json:"start_sec"`
	EndSec     *float64 `json:"end_sec"`
	Confidence *float64 `json:"confidence"`
}

// segmentsFromArtifacts builds a transcript from the model's artifact
// directory. A segments.json file wins over transcript.txt; with
// neither present (or both empty) it reports false and the caller
// falls back to the baseline transcript.
func segmentsFromArtifacts(jobID, artifactPath string) ([]*models.TranscriptSegment, bool) {
	if artifactPath == "" {
		return nil, false
	}
	if _, err := os.Stat(artifactPath); err != nil {
		return nil, false
	}

	if segments, ok := segmentsFromJSON(jobID, filepath.Join(artifactPath, "segments.json")); ok {
		return segments, true
	}
	if segments, ok := segmentsFromTranscript(jobID, filepath.Join(artifactPath, "transcript.txt")); ok {
		return segments, true
	}
	return nil, false
}

func segmentsFromJSON(jobID, path string) ([]*models.TranscriptSegment, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var raw []artifactSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	var segments []*models.TranscriptSegment
	for idx, item := range raw {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		start := float64(idx) * artifactSegmentSpan
		if item.StartSec != nil {
			start = *item.StartSec
		}
		end := start + artifactSegmentSpan
		if item.EndSec != nil {
			end = *item.EndSec
		}
		confidence := 0.85
		if item.Confidence != nil {
			confidence = *item.Confidence
		}
		segments = append(segments, models.NewTranscriptSegment(
			jobID, idx, round3(start), round3(end), text, confidence))
	}
	if len(segments) == 0 {
		return nil, false
	}
	return segments, true
}

func segmentsFromTranscript(jobID, path string) ([]*models.TranscriptSegment, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var segments []*models.TranscriptSegment
	cursor := 0.0
	idx := 0
	for _, line := range strings.Split(string(data), "\n") {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		end := cursor + artifactSegmentSpan
		segments = append(segments, models.NewTranscriptSegment(
			jobID, idx, round3(cursor), round3(end), text, transcriptLineConfidence))
		cursor = end
		idx++
	}
	if len(segments) == 0 {
		return nil, false
	}
	return segments, true
}

// fallbackSegments is the deterministic baseline transcript produced
// when no artifact transcript files are available.
func fallbackSegments(jobID, modelLabel string) []*models.TranscriptSegment {
	texts := []string{
		fmt.Sprintf("[%s] Baseline transcript path.", modelLabel),
		"No artifact transcript files were found, so baseline output is used.",
		"Provide segments.json or transcript.txt in model artifacts for custom runtime output.",
	}

	var segments []*models.TranscriptSegment
	cursor := 0.0
	for idx, text := range texts {
		duration := 4.0
		segments = append(segments, models.NewTranscriptSegment(
			jobID, idx, round3(cursor), round3(cursor+duration), text,
			0.76-float64(idx)*0.03))
		cursor += duration
	}
	return segments
}

// regenerateSegments produces the next editing pass: same timing, a
// pass marker on each text, confidence nudged down with a floor of
// 0.5, version bumped.
func regenerateSegments(segments []*models.TranscriptSegment, marker string) []*models.TranscriptSegment {
	out := make([]*models.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		cp := *seg
		cp.Text = fmt.Sprintf("%s %s", seg.Text, marker)
		cp.Confidence = math.Max(seg.Confidence-0.02, 0.5)
		cp.Version = seg.Version + 1
		out = append(out, &cp)
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
