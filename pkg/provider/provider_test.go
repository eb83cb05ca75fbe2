package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signflow/signflow/pkg/models"
)

func TestSafeFolderName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"openai/whisper-small", "openai-whisper-small"},
		{"plain-name_1.0", "plain-name_1.0"},
		{"spaces and:colons", "spaces-and-colons"},
	}
	for _, tt := range tests {
		if got := safeFolderName(tt.in); got != tt.want {
			t.Errorf("safeFolderName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureArtifactsLocalPlaceholder(t *testing.T) {
	r := NewResolver(t.TempDir(), true, nil, 0)

	dir, err := r.EnsureArtifacts(context.Background(), "stub-default", "local/stub", "main")
	if err != nil {
		t.Fatalf("EnsureArtifacts failed: %v", err)
	}

	marker := filepath.Join(dir, "MODEL_PLACEHOLDER.txt")
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("expected placeholder marker, got %v", err)
	}
	if !strings.Contains(string(data), "repo=local/stub") {
		t.Errorf("placeholder missing repo line:\n%s", data)
	}

	// resolving again reuses the directory
	again, err := r.EnsureArtifacts(context.Background(), "stub-default", "local/stub", "main")
	if err != nil {
		t.Fatalf("second EnsureArtifacts failed: %v", err)
	}
	if again != dir {
		t.Errorf("expected stable artifact dir, got %s then %s", dir, again)
	}
}

func TestEnsureArtifactsOfflineMiss(t *testing.T) {
	r := NewResolver(t.TempDir(), true, nil, 0)

	_, err := r.EnsureArtifacts(context.Background(), "whisper", "openai/whisper-small", "main")
	if err != ErrOfflineWithoutArtifacts {
		t.Errorf("expected ErrOfflineWithoutArtifacts, got %v", err)
	}
}

func TestSegmentsFromJSONArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := `[
		{"text": "first", "start_sec": 0.0, "end_sec": 2.0, "confidence": 0.95},
		{"text": "  "},
		{"text": "timed by position"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "segments.json"), []byte(artifact), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	segments, ok := segmentsFromArtifacts("job-1", dir)
	if !ok {
		t.Fatalf("expected segments from artifact")
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments (blank dropped), got %d", len(segments))
	}
	if segments[0].Text != "first" || segments[0].Confidence != 0.95 {
		t.Errorf("unexpected first segment: %+v", segments[0])
	}
	// item without timing gets a positional window
	if segments[1].StartSec != 7.0 || segments[1].EndSec != 10.5 {
		t.Errorf("expected positional timing 7.0-10.5, got %v-%v",
			segments[1].StartSec, segments[1].EndSec)
	}
}

func TestSegmentsFromTranscriptArtifact(t *testing.T) {
	dir := t.TempDir()
	transcript := "line one\n\n  line two  \n"
	if err := os.WriteFile(filepath.Join(dir, "transcript.txt"), []byte(transcript), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	segments, ok := segmentsFromArtifacts("job-1", dir)
	if !ok {
		t.Fatalf("expected segments from transcript")
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].StartSec != 0.0 || segments[0].EndSec != 3.5 {
		t.Errorf("unexpected timing on first line: %v-%v", segments[0].StartSec, segments[0].EndSec)
	}
	if segments[1].StartSec != 3.5 || segments[1].EndSec != 7.0 {
		t.Errorf("unexpected timing on second line: %v-%v", segments[1].StartSec, segments[1].EndSec)
	}
	if segments[1].Text != "line two" {
		t.Errorf("expected trimmed text, got %q", segments[1].Text)
	}
	if segments[0].Confidence != transcriptLineConfidence {
		t.Errorf("expected confidence %v, got %v", transcriptLineConfidence, segments[0].Confidence)
	}
}

func TestLocalProviderFallback(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	segments, err := p.Transcribe(context.Background(), Request{
		JobID:      "job-1",
		SessionID:  "session-1",
		ModelLabel: "stub-default",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 fallback segments, got %d", len(segments))
	}
	if !strings.Contains(segments[0].Text, "[stub-default]") {
		t.Errorf("expected model label in first segment, got %q", segments[0].Text)
	}
	if segments[0].Confidence != 0.76 || segments[2].Confidence != 0.70 {
		t.Errorf("unexpected fallback confidences: %v, %v",
			segments[0].Confidence, segments[2].Confidence)
	}
	if segments[2].EndSec != 12.0 {
		t.Errorf("expected 4s spans ending at 12.0, got %v", segments[2].EndSec)
	}

	// validate ordering invariant holds for provider output
	if err := models.ValidateSegmentOrder(segments); err != nil {
		t.Errorf("fallback segments violate ordering: %v", err)
	}

	// same request, same transcript
	again, err := p.Transcribe(context.Background(), Request{
		JobID:      "job-1",
		SessionID:  "session-1",
		ModelLabel: "stub-default",
	})
	if err != nil {
		t.Fatalf("second Transcribe failed: %v", err)
	}
	for i := range segments {
		if segments[i].Text != again[i].Text || segments[i].StartSec != again[i].StartSec {
			t.Errorf("transcription not deterministic at index %d", i)
		}
	}
}

func TestRegenerate(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	original := []*models.TranscriptSegment{
		models.NewTranscriptSegment("job-1", 0, 0.0, 2.0, "hello", 0.51),
		models.NewTranscriptSegment("job-1", 1, 2.0, 4.0, "world", 0.9),
	}

	regenerated, err := p.Regenerate(context.Background(), Request{JobID: "job-1"}, original)
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if len(regenerated) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(regenerated))
	}
	if !strings.HasSuffix(regenerated[0].Text, "[local-pass]") {
		t.Errorf("expected pass marker, got %q", regenerated[0].Text)
	}
	// confidence floors at 0.5
	if regenerated[0].Confidence != 0.5 {
		t.Errorf("expected floored confidence 0.5, got %v", regenerated[0].Confidence)
	}
	if regenerated[1].Confidence != 0.88 {
		t.Errorf("expected 0.88, got %v", regenerated[1].Confidence)
	}
	if regenerated[0].Version != original[0].Version+1 {
		t.Errorf("expected version bump, got %d", regenerated[0].Version)
	}
	// originals untouched
	if strings.Contains(original[0].Text, "[local-pass]") {
		t.Errorf("regenerate mutated its input")
	}
}

func TestHubProviderHealth(t *testing.T) {
	online := NewHubProvider(Config{Type: "hub", CacheDir: t.TempDir()})
	if s := online.Health(); s.Status != "ok" || s.OfflineMode {
		t.Errorf("expected ok online status, got %+v", s)
	}

	offline := NewHubProvider(Config{Type: "hub", CacheDir: t.TempDir(), Offline: true})
	if s := offline.Health(); s.Status != "degraded" || !s.OfflineMode {
		t.Errorf("expected degraded offline status, got %+v", s)
	}
}
