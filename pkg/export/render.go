package export

import (
	"fmt"
	"strings"

	"github.com/signflow/signflow/pkg/models"
)

// Render produces the subtitle or transcript document for segments in
// the given format. Segments are rendered in the order given; callers
// pass them already sorted by order index.
func Render(format models.ExportFormat, segments []*models.TranscriptSegment) (string, error) {
	switch format {
	case models.ExportFormatSRT:
		return RenderSRT(segments), nil
	case models.ExportFormatVTT:
		return RenderVTT(segments), nil
	case models.ExportFormatTXT:
		return RenderTXT(segments), nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// RenderSRT renders SubRip subtitles: 1-based cue numbers, comma
// millisecond separators, blank line between cues.
func RenderSRT(segments []*models.TranscriptSegment) string {
	if len(segments) == 0 {
		// empty transcripts still yield a newline-terminated document
		return "\n"
	}
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			i+1,
			formatTimestamp(seg.StartSec, ","),
			formatTimestamp(seg.EndSec, ","),
			strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// RenderVTT renders WebVTT: the same cues as SRT with period
// millisecond separators under a WEBVTT header.
func RenderVTT(segments []*models.TranscriptSegment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n",
			formatTimestamp(seg.StartSec, "."),
			formatTimestamp(seg.EndSec, "."),
			strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// RenderTXT renders the plain transcript: one non-empty segment text
// per line, timestamps dropped.
func RenderTXT(segments []*models.TranscriptSegment) string {
	var lines []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// formatTimestamp renders seconds as HH:MM:SS<sep>mmm. Negative inputs
// clamp to zero rather than producing malformed timestamps; fractional
// milliseconds truncate.
func formatTimestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds * 1000)
	hours := totalMillis / 3600000
	minutes := (totalMillis % 3600000) / 60000
	secs := (totalMillis % 60000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, sep, millis)
}
