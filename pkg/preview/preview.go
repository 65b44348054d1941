// Package preview prints a report to a terminal the way the chat client
// would show it: bold headers, highlighted code spans, entities decoded.
package preview

import (
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"

	"gitlab.com/tinyland/lab/host-pulse/pkg/report"
)

// Printer renders reports for one output stream.
type Printer struct {
	out   io.Writer
	width int
	plain bool

	bold lipgloss.Style
	code lipgloss.Style
}

// New returns a Printer for f. Styling is enabled only when f is a
// terminal; the wrap width follows the terminal size.
func New(f *os.File) *Printer {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	r := lipgloss.NewRenderer(f)
	if !tty {
		r.SetColorProfile(termenv.Ascii)
	}
	return NewWithRenderer(f, r, Width(f.Fd()), !tty)
}

// NewWithRenderer builds a Printer from explicit parts. width <= 0 disables
// wrapping; plain drops all styling.
func NewWithRenderer(out io.Writer, r *lipgloss.Renderer, width int, plain bool) *Printer {
	return &Printer{
		out:   out,
		width: width,
		plain: plain,
		bold:  r.NewStyle().Bold(true),
		code:  r.NewStyle().Foreground(lipgloss.Color("#7C3AED")),
	}
}

// Print writes the rendered report followed by a newline.
func (p *Printer) Print(r report.Report) error {
	_, err := fmt.Fprintln(p.out, p.Render(r))
	return err
}

// Render converts the report's HTML markup into terminal text.
func (p *Printer) Render(r report.Report) string {
	lines := strings.Split(strings.TrimRight(string(r), "\n"), "\n")
	for i, line := range lines {
		lines[i] = p.renderLine(line)
		if p.width > 0 {
			lines[i] = wordwrap.String(lines[i], p.width)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Printer) renderLine(line string) string {
	var b strings.Builder
	for _, seg := range Segments(line) {
		text := html.UnescapeString(seg.Text)
		switch {
		case p.plain:
			b.WriteString(text)
		case seg.Tag == "b":
			b.WriteString(p.bold.Render(text))
		case seg.Tag == "code":
			b.WriteString(p.code.Render(text))
		default:
			b.WriteString(text)
		}
	}
	return b.String()
}

// Segment is a run of text and the tag enclosing it, if any.
type Segment struct {
	Tag  string
	Text string
}

var tagPattern = regexp.MustCompile(`<(/?)(b|code)>`)

// Segments splits one line of Telegram HTML into tagged runs. Only <b> and
// <code> are recognized and they do not nest.
func Segments(line string) []Segment {
	var segs []Segment
	tag := ""
	last := 0
	for _, m := range tagPattern.FindAllStringSubmatchIndex(line, -1) {
		if m[0] > last {
			segs = append(segs, Segment{Tag: tag, Text: line[last:m[0]]})
		}
		if line[m[2]:m[3]] == "/" {
			tag = ""
		} else {
			tag = line[m[4]:m[5]]
		}
		last = m[1]
	}
	if last < len(line) {
		segs = append(segs, Segment{Tag: tag, Text: line[last:]})
	}
	return segs
}
