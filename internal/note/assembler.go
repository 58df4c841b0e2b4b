// Package note renders finished transcription jobs into markdown
// documents and writes them into the configured vault directory.
package note

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// Document carries everything the renderer needs for one note. Analysis
// is optional; when it is nil, AnalysisFailure explains why.
type Document struct {
	SourceName      string
	Duration        float64
	Language        string
	SpeakerCount    int
	Tags            []string
	Transcript      domain.Transcript
	Analysis        *domain.AnalysisResult
	AnalysisFailure string
}

// Assembler persists a rendered document and returns its path.
type Assembler interface {
	Save(ctx context.Context, doc Document) (string, error)
}

// MarkdownAssembler writes Obsidian-flavoured notes with a YAML
// frontmatter header followed by the labelled content sections.
type MarkdownAssembler struct {
	outputDir string
	now       func() time.Time
	mkdirAll  func(string, os.FileMode) error
	writeFile func(string, []byte, os.FileMode) error
	logger    *slog.Logger
}

func NewMarkdownAssembler(outputDir string, logger *slog.Logger) *MarkdownAssembler {
	return &MarkdownAssembler{
		outputDir: outputDir,
		now:       time.Now,
		mkdirAll:  os.MkdirAll,
		writeFile: os.WriteFile,
		logger:    logger,
	}
}

// NewMarkdownAssemblerForTests allows injecting the clock and filesystem
// writes.
func NewMarkdownAssemblerForTests(
	outputDir string,
	now func() time.Time,
	mkdirAll func(string, os.FileMode) error,
	writeFile func(string, []byte, os.FileMode) error,
	logger *slog.Logger,
) *MarkdownAssembler {
	return &MarkdownAssembler{
		outputDir: outputDir,
		now:       now,
		mkdirAll:  mkdirAll,
		writeFile: writeFile,
		logger:    logger,
	}
}

func (a *MarkdownAssembler) Save(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.CancelledFailure("save cancelled")
	}
	if err := a.mkdirAll(a.outputDir, 0o755); err != nil {
		return "", domain.NewFailure(domain.CodeSaveFailed, domain.KindResource,
			fmt.Sprintf("cannot create output directory %s", a.outputDir), err)
	}

	path := filepath.Join(a.outputDir, a.fileName(doc.SourceName))
	content := Render(doc, a.now())
	if err := a.writeFile(path, []byte(content), 0o644); err != nil {
		return "", domain.NewFailure(domain.CodeSaveFailed, domain.KindResource,
			fmt.Sprintf("cannot write note %s", path), err)
	}

	a.logger.Info("note saved", "path", path, "bytes", len(content))
	return path, nil
}

func (a *MarkdownAssembler) fileName(sourceName string) string {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	base = sanitizeTitle(base)
	if base == "" {
		base = "transcription"
	}
	return fmt.Sprintf("%s %s.md", base, a.now().Format("2006-01-02 15.04"))
}

// sanitizeTitle drops characters Obsidian refuses in note titles.
func sanitizeTitle(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '#', '^', '[', ']':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Render produces the full note text: frontmatter, then the analysis
// sections that exist, then the transcript. Only the transcript section
// is guaranteed.
func Render(doc Document, generated time.Time) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "source: %q\n", filepath.Base(doc.SourceName))
	if doc.Duration > 0 {
		fmt.Fprintf(&b, "duration: %s\n", formatDuration(doc.Duration))
	}
	if doc.Language != "" {
		fmt.Fprintf(&b, "language: %s\n", doc.Language)
	}
	if doc.SpeakerCount > 0 {
		fmt.Fprintf(&b, "speakers: %d\n", doc.SpeakerCount)
	}
	if len(doc.Tags) > 0 {
		fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(doc.Tags, ", "))
	}
	fmt.Fprintf(&b, "created: %s\n", generated.Format(time.RFC3339))
	b.WriteString("---\n\n")

	if doc.Analysis != nil {
		renderAnalysis(&b, doc.Analysis)
	} else if doc.AnalysisFailure != "" {
		fmt.Fprintf(&b, "> [!warning] Analysis unavailable\n> %s\n\n", doc.AnalysisFailure)
	}

	b.WriteString("## Transcript\n\n")
	for _, s := range doc.Transcript.Segments {
		ts := ""
		if s.End > 0 {
			ts = fmt.Sprintf("**[%s - %s]** ", timestamp(s.Start), timestamp(s.End))
		}
		spk := ""
		if s.Speaker != nil {
			spk = fmt.Sprintf("Speaker %d: ", *s.Speaker+1)
		}
		fmt.Fprintf(&b, "%s%s%s\n\n", ts, spk, strings.TrimSpace(s.Text))
	}

	return b.String()
}

func renderAnalysis(b *strings.Builder, res *domain.AnalysisResult) {
	if res.Summary != "" {
		fmt.Fprintf(b, "## Summary\n\n%s\n\n", res.Summary)
	}
	renderList(b, "Key Points", res.KeyPoints, "- ")
	renderList(b, "Action Items", res.ActionItems, "- [ ] ")
	renderList(b, "Follow-up Questions", res.FollowUps, "- ")
}

func renderList(b *strings.Builder, heading string, items []string, marker string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "%s%s\n", marker, item)
	}
	b.WriteString("\n")
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func timestamp(sec float64) string {
	d := time.Duration(sec*1000) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
