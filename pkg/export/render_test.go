package export

import (
	"strings"
	"testing"
	"time"

	"github.com/signflow/signflow/pkg/blob"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/store"
)

func sampleSegments() []*models.TranscriptSegment {
	return []*models.TranscriptSegment{
		models.NewTranscriptSegment("job-1", 0, 0.0, 2.5, "  hello there ", 0.9),
		models.NewTranscriptSegment("job-1", 1, 2.5, 5.0, "general\nkenobi", 0.8),
		models.NewTranscriptSegment("job-1", 2, 3661.25, 3662.0, "one hour in", 0.7),
	}
}

func TestRenderSRT(t *testing.T) {
	got := RenderSRT(sampleSegments())
	want := "1\n" +
		"00:00:00,000 --> 00:00:02,500\n" +
		"hello there\n" +
		"\n" +
		"2\n" +
		"00:00:02,500 --> 00:00:05,000\n" +
		"general\nkenobi\n" +
		"\n" +
		"3\n" +
		"01:01:01,250 --> 01:01:02,000\n" +
		"one hour in\n"
	if got != want {
		t.Errorf("SRT mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderVTT(t *testing.T) {
	got := RenderVTT(sampleSegments())
	if !strings.HasPrefix(got, "WEBVTT\n") {
		t.Fatalf("expected WEBVTT header, got %q", got)
	}
	if !strings.Contains(got, "00:00:02.500 --> 00:00:05.000") {
		t.Errorf("expected period millisecond separator, got:\n%s", got)
	}
	if strings.Contains(got, ",500") {
		t.Errorf("VTT must not use comma separators:\n%s", got)
	}
}

func TestRenderTXT(t *testing.T) {
	segments := []*models.TranscriptSegment{
		models.NewTranscriptSegment("job-1", 0, 0.0, 1.0, "first", 0.9),
		models.NewTranscriptSegment("job-1", 1, 1.0, 2.0, "   ", 0.9),
		models.NewTranscriptSegment("job-1", 2, 2.0, 3.0, "third", 0.9),
	}
	got := RenderTXT(segments)
	want := "first\nthird\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderEmptyTranscript(t *testing.T) {
	// empty transcripts render as a bare newline-terminated document,
	// never the empty string
	if got := RenderSRT(nil); got != "\n" {
		t.Errorf("expected newline-terminated empty SRT document, got %q", got)
	}
	if got := RenderVTT(nil); got != "WEBVTT\n" {
		t.Errorf("expected bare WEBVTT header, got %q", got)
	}
	if got := RenderTXT(nil); got != "\n" {
		t.Errorf("expected newline-terminated empty TXT document, got %q", got)
	}
	// a transcript of blank-only segments renders like an empty one
	blank := []*models.TranscriptSegment{
		models.NewTranscriptSegment("job-1", 0, 0.0, 1.0, "   ", 0.9),
	}
	if got := RenderTXT(blank); got != "\n" {
		t.Errorf("expected blank-only TXT document to collapse to %q, got %q", "\n", got)
	}
}

func TestRenderTimestampTruncatesMillis(t *testing.T) {
	// 1.2349s is 1234.9ms; the millisecond field truncates, not rounds
	segments := []*models.TranscriptSegment{
		models.NewTranscriptSegment("job-1", 0, 1.2349, 2.9999, "truncated", 0.9),
	}
	got := RenderSRT(segments)
	if !strings.Contains(got, "00:00:01,234 --> 00:00:02,999") {
		t.Errorf("expected truncated millisecond timestamps, got:\n%s", got)
	}
}

func TestRenderNegativeTimestampsClamp(t *testing.T) {
	segments := []*models.TranscriptSegment{
		models.NewTranscriptSegment("job-1", 0, -1.5, 1.0, "clamped", 0.9),
	}
	got := RenderSRT(segments)
	if !strings.Contains(got, "00:00:00,000 --> 00:00:01,000") {
		t.Errorf("expected negative start clamped to zero, got:\n%s", got)
	}
}

func TestRenderUnsupportedFormat(t *testing.T) {
	if _, err := Render(models.ExportFormat("docx"), nil); err == nil {
		t.Errorf("expected error for unsupported format")
	}
}

type countingSink struct {
	formats []string
}

func (c *countingSink) ObserveExport(format string) {
	c.formats = append(c.formats, format)
}

func TestExportService(t *testing.T) {
	st := store.NewMemoryStore()
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}
	sink := &countingSink{}
	svc := NewService(st, blobs, sink)

	session := models.NewEditingSession("user-1", time.Hour)
	if err := st.CreateSession(session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	job := models.NewJob(session.ID)
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// exporting a queued job is rejected
	if _, err := svc.Export(job.ID, models.ExportFormatSRT); err == nil {
		t.Errorf("expected error exporting a queued job")
	}

	now := time.Now().UTC()
	if err := st.MarkJobProcessing(job.ID, 20, "model-a", now); err != nil {
		t.Fatalf("MarkJobProcessing failed: %v", err)
	}
	segments := []*models.TranscriptSegment{
		models.NewTranscriptSegment(job.ID, 0, 0.0, 2.0, "hello", 0.9),
	}
	if err := st.CompleteJob(job.ID, segments, now); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	artifact, err := svc.Export(job.ID, models.ExportFormatSRT)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if artifact.Status != models.ExportStatusDone {
		t.Errorf("expected done artifact, got %s", artifact.Status)
	}
	if artifact.ObjectKey == "" {
		t.Fatalf("expected object key on finished artifact")
	}

	data, err := blobs.Get(artifact.ObjectKey)
	if err != nil {
		t.Fatalf("blob Get failed: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("exported document missing transcript text:\n%s", data)
	}

	list, err := st.ListExportsByJob(job.ID)
	if err != nil {
		t.Fatalf("ListExportsByJob failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 recorded export, got %d", len(list))
	}

	// the rejected export above must not have been counted
	if len(sink.formats) != 1 || sink.formats[0] != string(models.ExportFormatSRT) {
		t.Errorf("expected one counted srt export, got %v", sink.formats)
	}
}
