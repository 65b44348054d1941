// Package sink stores each cycle's numeric metrics in GreptimeDB so the
// chat report has a queryable history next to it.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/host-pulse/pkg/report"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "host_pulse_metrics"

// Config holds the GreptimeDB connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
}

// Writer is the part of the ingester client the sink uses.
type Writer interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// Greptime writes one row per available metric per cycle into a narrow
// table: host and metric are tags, value is a float field.
type Greptime struct {
	client  Writer
	table   string
	host    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGreptime dials GreptimeDB over gRPC. host labels every row.
func NewGreptime(cfg Config, host string, logger *slog.Logger) (*Greptime, error) {
	gcfg := greptime.NewConfig(cfg.Host).WithPort(cfg.Port).WithDatabase(cfg.Database)
	if cfg.Username != "" {
		gcfg = gcfg.WithAuth(cfg.Username, cfg.Password)
	}
	client, err := greptime.NewClient(gcfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return NewGreptimeWithWriter(client, cfg, host, logger), nil
}

// NewGreptimeWithWriter wraps an existing writer. Tests use it with a fake.
func NewGreptimeWithWriter(w Writer, cfg Config, host string, logger *slog.Logger) *Greptime {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Greptime{
		client:  w,
		table:   cfg.Table,
		host:    host,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Record implements report.Sink. Fields that failed this cycle are skipped,
// not written as zero.
func (g *Greptime) Record(ctx context.Context, s report.Snapshot) error {
	points := Points(s)
	if len(points) == 0 {
		return nil
	}

	tbl, err := g.buildTable(s.Time, points)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Write(ctx, tbl)
	if err != nil {
		return fmt.Errorf("greptime write: %w", err)
	}
	g.logger.Debug("metrics stored", "table", g.table, "rows", resp.GetAffectedRows().GetValue())
	return nil
}

func (g *Greptime) buildTable(ts time.Time, points []Point) (*table.Table, error) {
	tbl, err := table.New(g.table)
	if err != nil {
		return nil, fmt.Errorf("greptime table: %w", err)
	}
	if err := tbl.AddTagColumn("host", types.STRING); err != nil {
		return nil, err
	}
	if err := tbl.AddTagColumn("metric", types.STRING); err != nil {
		return nil, err
	}
	if err := tbl.AddFieldColumn("value", types.FLOAT64); err != nil {
		return nil, err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}
	for _, p := range points {
		if err := tbl.AddRow(g.host, p.Metric, p.Value, ts); err != nil {
			return nil, fmt.Errorf("greptime row %s: %w", p.Metric, err)
		}
	}
	return tbl, nil
}

// Point is one metric sample.
type Point struct {
	Metric string
	Value  float64
}

// Points flattens the valid fields of a snapshot.
func Points(s report.Snapshot) []Point {
	var out []Point
	add := func(name string, v float64) { out = append(out, Point{Metric: name, Value: v}) }

	sys := s.System
	if sys.CPU.Valid() {
		add("cpu_percent", sys.CPU.Value)
	}
	if sys.Memory.Valid() {
		add("memory_percent", sys.Memory.Value.UsedPercent)
		add("memory_used_bytes", float64(sys.Memory.Value.Used))
	}
	if sys.Disk.Valid() {
		add("disk_percent", sys.Disk.Value.UsedPercent)
		add("disk_used_bytes", float64(sys.Disk.Value.Used))
	}
	if sys.Network.Valid() {
		add("net_sent_bytes", float64(sys.Network.Value.BytesSent))
		add("net_recv_bytes", float64(sys.Network.Value.BytesRecv))
	}
	if sys.Load.Valid() {
		loadPoints(sys.Load.Value, add)
	}
	if sys.Uptime.Valid() {
		add("uptime_seconds", sys.Uptime.Value.Seconds())
	}
	if s.Containers.Valid() {
		add("containers", float64(len(s.Containers.Value)))
	}
	if s.Tailnet != nil && s.Tailnet.Valid() && s.Tailnet.Value != nil {
		add("tailnet_online_peers", float64(s.Tailnet.Value.OnlinePeers))
	}
	return out
}

func loadPoints(l sysmetrics.LoadMetrics, add func(string, float64)) {
	add("load1", l.Load1)
	add("load5", l.Load5)
	add("load15", l.Load15)
}
