// Package ui renders command output for the terminal. Colored output is
// used on a TTY, plain text everywhere else, so piped output stays clean.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/secstack/threatvault/internal/curator"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/search"
	"github.com/secstack/threatvault/internal/store"
)

// Renderer writes formatted command output.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// NewRenderer picks colored or plain styles based on whether out is a
// terminal.
func NewRenderer(out io.Writer) *Renderer {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return newRenderer(out, color)
}

func newRenderer(out io.Writer, color bool) *Renderer {
	styles := NoColorStyles()
	if color {
		styles = DefaultStyles()
	}
	return &Renderer{out: out, styles: styles}
}

func (r *Renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Statistics renders the store statistics summary.
func (r *Renderer) Statistics(stats *store.Statistics) {
	s := r.styles
	r.printf("%s\n", s.Header.Render("Threat Intelligence Store"))
	r.printf("  %s %s\n", s.Label.Render("indicators:"), s.Value.Render(fmt.Sprintf("%d", stats.TotalIndicators)))
	r.printf("  %s %s\n", s.Label.Render("ttp mappings:"), s.Value.Render(fmt.Sprintf("%d", stats.TotalMappings)))
	r.printf("  %s %s\n", s.Label.Render("analyses:"), s.Value.Render(fmt.Sprintf("%d", stats.TotalAnalyses)))
	r.printf("  %s %s\n", s.Label.Render("feed sources:"), s.Value.Render(fmt.Sprintf("%d", stats.FeedSources)))

	if len(stats.RiskDistribution) > 0 {
		r.printf("\n%s\n", s.Header.Render("By risk"))
		for _, level := range []ioc.RiskLevel{ioc.RiskCritical, ioc.RiskHigh, ioc.RiskMedium, ioc.RiskLow} {
			if n, ok := stats.RiskDistribution[level]; ok {
				r.printf("  %s %d\n", s.Risk(level).Render(fmt.Sprintf("%-9s", level)), n)
			}
		}
	}

	if len(stats.CategoryDistribution) > 0 {
		r.printf("\n%s\n", s.Header.Render("By category"))
		categories := make([]string, 0, len(stats.CategoryDistribution))
		for c := range stats.CategoryDistribution {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			r.printf("  %s %d\n", s.Label.Render(fmt.Sprintf("%-24s", c)), stats.CategoryDistribution[c])
		}
	}
}

// SearchResults renders ranked similarity matches.
func (r *Renderer) SearchResults(query string, results []search.Result) {
	s := r.styles
	if len(results) == 0 {
		r.printf("%s\n", s.Dim.Render("no matches for "+query))
		return
	}
	r.printf("%s\n", s.Header.Render(fmt.Sprintf("%d matches for %q", len(results), query)))
	for _, res := range results {
		ind := res.Indicator
		r.printf("  %.3f  %s  %s %s %s\n",
			res.Score,
			s.Risk(ind.RiskLevel).Render(fmt.Sprintf("%-8s", ind.RiskLevel)),
			s.Value.Render(ind.Value),
			s.Label.Render(ind.Category),
			s.Dim.Render("("+string(res.Provenance)+")"))
	}
}

// FeedSources renders the feed source table with state coloring.
func (r *Renderer) FeedSources(sources []*store.FeedSource) {
	s := r.styles
	if len(sources) == 0 {
		r.printf("%s\n", s.Dim.Render("no feed sources registered"))
		return
	}
	r.printf("%s\n", s.Header.Render("Feed sources"))
	for _, src := range sources {
		state := s.Good
		switch src.State {
		case store.SourceBackoff:
			state = s.Warn
		case store.SourceDisabled:
			state = s.Bad
		}
		polled := "never"
		if !src.LastPolled.IsZero() {
			polled = src.LastPolled.Local().Format(time.DateTime)
		}
		line := fmt.Sprintf("  %-22s %s  every %-8s last %s",
			src.Name, state.Render(fmt.Sprintf("%-8s", src.State)), src.PollInterval, polled)
		if src.FailReason != "" {
			line += "  " + s.Dim.Render(truncate(src.FailReason, 60))
		}
		r.printf("%s\n", line)
	}
}

// DatasetSummary renders the curation manifest after an export.
func (r *Renderer) DatasetSummary(m curator.Manifest, path string) {
	s := r.styles
	r.printf("%s\n", s.Header.Render(fmt.Sprintf("Dataset written: %s", path)))
	for _, category := range curator.Categories {
		style := s.Value
		if underfilled(m, category) {
			style = s.Warn
		}
		r.printf("  %s %s\n", s.Label.Render(fmt.Sprintf("%-18s", category)),
			style.Render(fmt.Sprintf("%d", m.Counts[category])))
	}
	r.printf("  %s %s\n", s.Label.Render(fmt.Sprintf("%-18s", "total")),
		s.Value.Render(fmt.Sprintf("%d", m.Total)))
}

// Error renders a failure line to the writer.
func (r *Renderer) Error(err error) {
	r.printf("%s %s\n", r.styles.Bad.Render("error:"), err.Error())
}

func underfilled(m curator.Manifest, category curator.Category) bool {
	for _, c := range m.Underfilled {
		if c == category {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
