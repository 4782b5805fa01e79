// Package report renders spec §2's "aggregate throughput, byte-transfer,
// error, and latency-distribution statistics" as colorized text, matching
// the teacher's internal/output/colors.go scheme, plus an optional
// machine-readable JSON form.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/wrkgo/internal/conn"
	"github.com/wesleyorama2/wrkgo/internal/coordinator"
	"github.com/wesleyorama2/wrkgo/internal/histogram"
)

// ColorScheme mirrors the teacher's DefaultColorScheme/NoColorScheme
// split: one struct of *color.Color fields, DisableColor()'d in bulk when
// output isn't an interactive terminal or --no-color is set.
type ColorScheme struct {
	Heading *color.Color
	Label   *color.Color
	Value   *color.Color
	Good    *color.Color
	Bad     *color.Color
}

// DefaultColorScheme returns the report's color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Heading: color.New(color.FgCyan, color.Bold),
		Label:   color.New(color.FgYellow),
		Value:   color.New(color.FgWhite, color.Bold),
		Good:    color.New(color.FgGreen, color.Bold),
		Bad:     color.New(color.FgRed, color.Bold),
	}
}

// NoColorScheme returns DefaultColorScheme with every color disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	s.Heading.DisableColor()
	s.Label.DisableColor()
	s.Value.DisableColor()
	s.Good.DisableColor()
	s.Bad.DisableColor()
	return s
}

// SchemeFor picks a color scheme the way the teacher's CLI does: colorize
// only when w is an interactive terminal and the caller hasn't forced
// --no-color.
func SchemeFor(w io.Writer, noColor bool) *ColorScheme {
	if noColor || !isTerminal(w) {
		return NoColorScheme()
	}
	return DefaultColorScheme()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Options controls how Write renders a coordinator.Report.
type Options struct {
	JSON          bool
	NoColor       bool
	PrintLatency  bool // -L: accepted; the corrected table is printed either way
	PrintULatency bool // -U: full uncorrected-latency percentile table
}

// jsonReport is the machine-readable shape, grounded on the teacher's
// deleted internal/performance/v2/engine.TestResult JSON tags.
type jsonReport struct {
	RuntimeSeconds   float64         `json:"runtime_seconds"`
	Requests         uint64          `json:"requests"`
	Bytes            uint64          `json:"bytes"`
	RequestsPerSec   float64         `json:"requests_per_sec"`
	BytesPerSec      float64         `json:"bytes_per_sec"`
	Errors           jsonErrorCounts `json:"errors"`
	LatencyCorrected jsonPercentiles `json:"latency_corrected_us"`
	LatencyUncorrect jsonPercentiles `json:"latency_uncorrected_us"`
	Throughput       []float64       `json:"throughput_samples_per_sec"`
}

type jsonErrorCounts struct {
	Connect     int64 `json:"connect"`
	Read        int64 `json:"read"`
	Write       int64 `json:"write"`
	Timeout     int64 `json:"timeout"`
	Status      int64 `json:"status"`
	Established int64 `json:"established"`
	Reconnect   int64 `json:"reconnect"`
}

type jsonPercentiles struct {
	P50   int64   `json:"p50"`
	P90   int64   `json:"p90"`
	P99   int64   `json:"p99"`
	P999  int64   `json:"p999"`
	Max   int64   `json:"max"`
	Mean  float64 `json:"mean"`
	Count int64   `json:"count"`
}

// Write renders rep to w per opts. JSON output is one indented object;
// text output is the colorized summary, optionally followed by the
// uncorrected percentile table when opts.PrintULatency is set (spec §6's
// -U flag; the corrected table is always shown since it's the run's
// primary result, whether or not opts.PrintLatency is set).
func Write(w io.Writer, rep *coordinator.Report, opts Options) error {
	if opts.JSON {
		return writeJSON(w, rep)
	}
	return writeText(w, rep, opts)
}

func writeJSON(w io.Writer, rep *coordinator.Report) error {
	seconds := rep.Runtime.Seconds()
	var reqPerSec, bytesPerSec float64
	if seconds > 0 {
		reqPerSec = float64(rep.Complete) / seconds
		bytesPerSec = float64(rep.Bytes) / seconds
	}

	out := jsonReport{
		RuntimeSeconds:   seconds,
		Requests:         rep.Complete,
		Bytes:            rep.Bytes,
		RequestsPerSec:   reqPerSec,
		BytesPerSec:      bytesPerSec,
		Errors:           toJSONErrors(rep.Counters),
		LatencyCorrected: toJSONPercentiles(rep.Corrected),
		LatencyUncorrect: toJSONPercentiles(rep.Uncorrected),
		Throughput:       rep.Throughput,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONErrors(c conn.Counters) jsonErrorCounts {
	return jsonErrorCounts{
		Connect:     c.Connect,
		Read:        c.Read,
		Write:       c.Write,
		Timeout:     c.Timeout,
		Status:      c.Status,
		Established: c.Established,
		Reconnect:   c.Reconnect,
	}
}

func toJSONPercentiles(p histogram.Percentiles) jsonPercentiles {
	return jsonPercentiles{P50: p.P50, P90: p.P90, P99: p.P99, P999: p.P999, Max: p.Max, Mean: p.Mean, Count: p.Count}
}

func writeText(w io.Writer, rep *coordinator.Report, opts Options) error {
	scheme := SchemeFor(w, opts.NoColor)
	var buf strings.Builder

	seconds := rep.Runtime.Seconds()
	var reqPerSec, bytesPerSec float64
	if seconds > 0 {
		reqPerSec = float64(rep.Complete) / seconds
		bytesPerSec = float64(rep.Bytes) / seconds
	}

	buf.WriteString(scheme.Heading.Sprint("wrkgo run summary\n"))
	writeLine(&buf, scheme, "Duration", fmt.Sprintf("%.2fs", seconds))
	writeLine(&buf, scheme, "Requests", fmt.Sprintf("%d (%.2f req/s)", rep.Complete, reqPerSec))
	writeLine(&buf, scheme, "Transfer", fmt.Sprintf("%s (%s/s)", humanizeBytes(rep.Bytes), humanizeBytes(uint64(bytesPerSec))))

	buf.WriteString("\n")
	buf.WriteString(scheme.Heading.Sprint("Latency (corrected, coordinated-omission)\n"))
	writePercentiles(&buf, scheme, rep.Corrected)

	if opts.PrintULatency {
		buf.WriteString("\n")
		buf.WriteString(scheme.Heading.Sprint("Latency (uncorrected, actual send time)\n"))
		writePercentiles(&buf, scheme, rep.Uncorrected)
	}

	buf.WriteString("\n")
	buf.WriteString(scheme.Heading.Sprint("Errors\n"))
	writeErrors(&buf, scheme, rep.Counters)

	if len(rep.Throughput) > 0 {
		buf.WriteString("\n")
		buf.WriteString(scheme.Heading.Sprint("Throughput samples\n"))
		writeLine(&buf, scheme, "Samples", fmt.Sprintf("%d", len(rep.Throughput)))
		writeLine(&buf, scheme, "Mean", fmt.Sprintf("%.2f req/s", meanOf(rep.Throughput)))
	}

	_, err := io.WriteString(w, buf.String())
	return err
}

func writeLine(buf *strings.Builder, scheme *ColorScheme, label, value string) {
	buf.WriteString("  ")
	buf.WriteString(scheme.Label.Sprintf("%-12s", label))
	buf.WriteString(scheme.Value.Sprint(value))
	buf.WriteString("\n")
}

func writePercentiles(buf *strings.Builder, scheme *ColorScheme, p histogram.Percentiles) {
	writeLine(buf, scheme, "50%", microseconds(p.P50))
	writeLine(buf, scheme, "90%", microseconds(p.P90))
	writeLine(buf, scheme, "99%", microseconds(p.P99))
	writeLine(buf, scheme, "99.9%", microseconds(p.P999))
	writeLine(buf, scheme, "Max", microseconds(p.Max))
	writeLine(buf, scheme, "Mean", fmt.Sprintf("%.1fus (n=%d)", p.Mean, p.Count))
}

// writeErrors prints spec §7's error taxonomy, coloring the summary line
// red when any counter is non-zero so a clean run stands out at a glance.
func writeErrors(buf *strings.Builder, scheme *ColorScheme, c conn.Counters) {
	total := c.Connect + c.Read + c.Write + c.Timeout + c.Status + c.Reconnect
	status := scheme.Good
	label := "none"
	if total > 0 {
		status = scheme.Bad
		label = "errors encountered"
	}
	buf.WriteString("  ")
	buf.WriteString(status.Sprint(label))
	buf.WriteString("\n")

	writeLine(buf, scheme, "Connect", fmt.Sprintf("%d", c.Connect))
	writeLine(buf, scheme, "Read", fmt.Sprintf("%d", c.Read))
	writeLine(buf, scheme, "Write", fmt.Sprintf("%d", c.Write))
	writeLine(buf, scheme, "Timeout", fmt.Sprintf("%d", c.Timeout))
	writeLine(buf, scheme, "Status", fmt.Sprintf("%d", c.Status))
	writeLine(buf, scheme, "Reconnect", fmt.Sprintf("%d", c.Reconnect))
}

func meanOf(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func microseconds(us int64) string {
	switch {
	case us >= 1_000_000:
		return fmt.Sprintf("%.2fs", float64(us)/1_000_000)
	case us >= 1_000:
		return fmt.Sprintf("%.2fms", float64(us)/1_000)
	default:
		return fmt.Sprintf("%dus", us)
	}
}

func humanizeBytes(n uint64) string {
	const step = 1024.0
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	i := 0
	for v >= step && i < len(units)-1 {
		v /= step
		i++
	}
	return fmt.Sprintf("%.2f%s", v, units[i])
}
