// Package report turns one round of collector results into the text message
// posted to the chat channel. Rendering is pure; Builder does the collecting.
package report

import (
	"fmt"
	"html"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/containers"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/tailscale"
)

// Report is a pre-formatted message in Telegram HTML parse mode. It lives
// for one cycle: built, sent, discarded.
type Report string

// TimeLayout is how the server time line is printed.
const TimeLayout = "2006-01-02 15:04:05"

const (
	gib = 1 << 30
	mib = 1 << 20
)

// Snapshot is everything one cycle collected. Every field carries its own
// result so a failure in one never blanks the others.
type Snapshot struct {
	HostLabel  string
	Time       time.Time
	PublicIP   collectors.Result[string]
	System     sysmetrics.Metrics
	Containers collectors.Result[[]containers.Container]

	// Tailnet is nil when the tailscale collector is not enabled.
	Tailnet *collectors.Result[*tailscale.Status]
}

// Render formats a snapshot. Text that comes from the host (container names,
// error messages, labels) is HTML-escaped.
func Render(s Snapshot) Report {
	var b strings.Builder

	b.WriteString("🖥️ <b>Server Status</b>")
	if s.HostLabel != "" {
		fmt.Fprintf(&b, " · %s", html.EscapeString(s.HostLabel))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "🌐 • IP: <code>%s</code>\n", s.PublicIP.Format(html.EscapeString))
	fmt.Fprintf(&b, "⏱️ • Uptime: %s\n", s.System.Uptime.Format(formatUptime))
	fmt.Fprintf(&b, "⚡ • CPU: %s\n", s.System.CPU.Format(func(pct float64) string {
		return fmt.Sprintf("%.1f%%", pct)
	}))
	fmt.Fprintf(&b, "🧠 • RAM: %s\n", s.System.Memory.Format(func(m sysmetrics.MemoryMetrics) string {
		return fmt.Sprintf("%.1f%% (%.1fGB)", m.UsedPercent, float64(m.Used)/gib)
	}))
	fmt.Fprintf(&b, "💾 • Disk: %s\n", s.System.Disk.Format(func(d sysmetrics.DiskMetrics) string {
		return fmt.Sprintf("%.1f%% (%.1fGB)", d.UsedPercent, float64(d.Used)/gib)
	}))
	fmt.Fprintf(&b, "📶 • Network: %s\n", s.System.Network.Format(func(n sysmetrics.NetworkMetrics) string {
		return fmt.Sprintf("↑%.1fMB ↓%.1fMB", float64(n.BytesSent)/mib, float64(n.BytesRecv)/mib)
	}))
	if s.Tailnet != nil {
		fmt.Fprintf(&b, "🔒 • Tailnet: %s\n", s.Tailnet.Format(formatTailnet))
	}
	fmt.Fprintf(&b, "🕒 • Server Time: %s\n", s.Time.Format(TimeLayout))
	b.WriteString("🐳 <b>Docker Containers:</b>\n")
	b.WriteString(ContainerSection(s.Containers))
	b.WriteString("\n")

	return Report(b.String())
}

// ContainerSection renders the container list, the empty-list notice, or a
// single error line when the runtime could not be queried.
func ContainerSection(r collectors.Result[[]containers.Container]) string {
	if r.Err != nil {
		return "  Docker error: " + html.EscapeString(r.Err.Error())
	}
	if len(r.Value) == 0 {
		return "  No containers running"
	}
	lines := make([]string, 0, len(r.Value))
	for _, c := range r.Value {
		if c.Raw != "" {
			lines = append(lines, "  • "+html.EscapeString(c.Raw))
			continue
		}
		lines = append(lines, fmt.Sprintf("  • %s: %s", html.EscapeString(c.Name), html.EscapeString(c.Short)))
	}
	return strings.Join(lines, "\n")
}

// formatUptime prints whole hours and minutes, e.g. "26h 7m".
func formatUptime(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func formatTailnet(st *tailscale.Status) string {
	ip := st.IPv4
	if ip == "" {
		ip = st.IPv6
	}
	if ip == "" {
		ip = collectors.Placeholder
	}
	return fmt.Sprintf("<code>%s</code> (%d/%d peers online)", html.EscapeString(ip), st.OnlinePeers, st.TotalPeers)
}
