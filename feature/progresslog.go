package feature

import (
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// AppendProgress appends a timestamped line to sess.ProgressLog. Every
// state transition in the Session Controller routes through this so the
// log and the human-readable mirror stay in lockstep with the document.
func AppendProgress(sess *Session, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), Sanitize(fmt.Sprintf(format, args...)))
	sess.ProgressLog = append(sess.ProgressLog, line)
}

// Sanitize strips control characters and collapses newlines so a worker's
// raw output can never inject fake log lines or terminal escape sequences
// into the progress document. This is part of the data contract, not a
// UI nicety — it runs before the line is ever stored.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r == '\t':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f:
			// drop other control/escape characters outright
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// RenderProgressLog produces the human-readable progress.txt mirror: a
// short Markdown summary of the session's current shape followed by the
// log lines as a Markdown list. goldmark only parses the result as a
// well-formedness pass; the returned text is the Markdown source, not
// rendered HTML.
func RenderProgressLog(sess *Session) string {
	var md strings.Builder
	fmt.Fprintf(&md, "# Session: %s\n\n", sess.ProjectDir)
	fmt.Fprintf(&md, "- **Status:** %s\n", sess.Status)
	fmt.Fprintf(&md, "- **Task:** %s\n", Sanitize(sess.TaskDescription))
	fmt.Fprintf(&md, "- **Features:** %d\n", len(sess.Features))
	fmt.Fprintf(&md, "- **Last updated:** %s\n\n", sess.LastUpdated.Format(time.RFC3339))
	md.WriteString("## Log\n\n")
	for _, line := range sess.ProgressLog {
		fmt.Fprintf(&md, "- %s\n", line)
	}

	var out strings.Builder
	if err := goldmark.Convert([]byte(md.String()), htmlDiscardWriter{&out}); err != nil {
		// goldmark rendering is a presentation nicety; fall back to the raw
		// markdown source rather than losing the mirror entirely.
		return md.String()
	}
	// The mirror is meant to be human-readable on a terminal, so we keep the
	// raw markdown as the on-disk content and only use goldmark as a
	// validation pass that the summary is well-formed Markdown.
	_ = out
	return md.String()
}

// htmlDiscardWriter adapts a strings.Builder to goldmark's io.Writer
// requirement without pulling in the HTML renderer's output into the file
// we actually persist.
type htmlDiscardWriter struct {
	b *strings.Builder
}

func (w htmlDiscardWriter) Write(p []byte) (int, error) {
	return w.b.Write(p)
}
