// Package cli implements spec §6's command-line surface: `wrk [options]
// <url>` as a single cobra command (no subcommands — unlike the
// teacher's multi-verb get/post/perf tree, this repo has exactly one
// thing to do), adapted from the teacher's internal/cli/root.go
// Execute()/RootCmd pattern.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/wrkgo/internal/config"
	"github.com/wesleyorama2/wrkgo/internal/coordinator"
	"github.com/wesleyorama2/wrkgo/internal/report"
	"github.com/wesleyorama2/wrkgo/internal/scripthook"
)

const version = "0.1.0"

// cliFlags holds one command invocation's flag values. Bound fresh per
// newRootCmd() call rather than package-level vars, so a test (or an
// embedder) can build multiple independent commands without one run's
// flags leaking into the next — pflag's Changed bit is sticky across
// repeated Parse calls on the same FlagSet.
type cliFlags struct {
	connections    int
	threads        int
	duration       string
	rate           string
	script         string
	headers        []string
	timeout        string
	latency        bool
	uLatency       bool
	batchLatency   bool
	warmup         bool
	warmupTimeout  string
	localIP        string
	version        bool
	json           bool
	noColor        bool
	profile        string
	extractJSON    string
	validateSchema string
	method         string
	body           string
}

// newRootCmd builds a fresh wrkgo root command with its own flag
// bindings. RootCmd (below) is the process-wide instance Execute() uses;
// tests call newRootCmdWithFlags directly to get an isolated command
// plus the *cliFlags backing it, for asserting on buildConfig/
// buildHookFactory without reparsing flags through RunE.
func newRootCmd() *cobra.Command {
	cmd, _ := newRootCmdWithFlags()
	return cmd
}

func newRootCmdWithFlags() (*cobra.Command, *cliFlags) {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "wrkgo [options] <url>",
		Short: "wrkgo is a constant-throughput HTTP load generator",
		Long: `wrkgo drives a target HTTP(S) URL at a fixed requests/second rate
across a configurable number of connections and threads, correcting
reported latencies for coordinated omission.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if flags.version {
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, flags)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&flags.connections, "connections", "c", 10, "total connections across all threads")
	f.IntVarP(&flags.threads, "threads", "t", 2, "worker threads")
	f.StringVarP(&flags.duration, "duration", "d", "10s", "test duration, SI time units")
	f.StringVarP(&flags.rate, "rate", "R", "", "total requests/sec (required; 0 aborts)")
	f.StringVarP(&flags.script, "script", "s", "", "script file (accepted for CLI parity; the load-generation core runs scriptless per design, see --extract-json/--validate-schema)")
	f.StringArrayVarP(&flags.headers, "header", "H", nil, "extra request header 'Name: value' (may repeat)")
	f.StringVarP(&flags.timeout, "timeout", "T", "", "socket/request timeout, SI time units")
	f.BoolVarP(&flags.latency, "latency", "L", false, "print corrected-latency percentiles")
	f.BoolVarP(&flags.uLatency, "u_latency", "U", false, "additionally print uncorrected-latency percentiles")
	f.BoolVarP(&flags.batchLatency, "batch_latency", "B", false, "record only the last response per batch (disables record-all)")
	f.BoolVarP(&flags.warmup, "warmup", "W", false, "enable warmup phase")
	f.StringVar(&flags.warmupTimeout, "warmup_timeout", "", "independent per-worker warmup timeout, SI time units")
	f.StringVarP(&flags.localIP, "local_ip", "i", "", "comma-separated bind-address list (IPv6 may include %iface)")
	f.BoolVarP(&flags.version, "version", "v", false, "print version")
	f.BoolVar(&flags.json, "json", false, "emit a machine-readable JSON report instead of text")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored text output")
	f.StringVar(&flags.profile, "profile", "", "YAML run-profile file pre-setting flags (applied before explicit flags)")
	f.StringVar(&flags.extractJSON, "extract-json", "", "gjson path to extract from every JSON response body")
	f.StringVar(&flags.validateSchema, "validate-schema", "", "JSON schema file to validate every response body against")
	f.StringVarP(&flags.method, "method", "X", "", "HTTP method for the compiled-in default request (default GET)")
	f.StringVar(&flags.body, "body", "", "request body for the compiled-in default request")

	return cmd, flags
}

// RootCmd is spec §6's `wrk [options] <url>` command.
var RootCmd = newRootCmd()

// Execute runs the root command. Called by cmd/wrkgo's main.
func Execute() error {
	return RootCmd.Execute()
}

func run(cmd *cobra.Command, args []string, flags *cliFlags) error {
	if flags.version {
		fmt.Fprintf(cmd.OutOrStdout(), "wrkgo version %s\n", version)
		return nil
	}

	cfg, err := buildConfig(cmd, args[0], flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	hookFactory := buildHookFactory(cfg, flags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rep, err := coordinator.Run(ctx, cfg, hookFactory)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	return report.Write(cmd.OutOrStdout(), rep, report.Options{
		JSON:          flags.json,
		NoColor:       flags.noColor,
		PrintLatency:  flags.latency,
		PrintULatency: flags.uLatency,
	})
}

// buildConfig assembles a config.Config from config.Default(), an
// optional --profile YAML overlay, and explicit CLI flags — in that
// order, so an explicit flag always wins over the profile, and the
// profile always wins over built-in defaults.
func buildConfig(cmd *cobra.Command, rawURL string, flags *cliFlags) (*config.Config, error) {
	cfg := config.Default()

	if flags.profile != "" {
		profile, err := config.LoadProfile(flags.profile)
		if err != nil {
			return nil, err
		}
		if err := profile.ApplyTo(cfg); err != nil {
			return nil, fmt.Errorf("config: apply run profile: %w", err)
		}
	}

	u, err := config.ResolveURL(rawURL)
	if err != nil {
		return nil, err
	}
	cfg.URL = u

	fs := cmd.Flags()
	if fs.Changed("connections") {
		cfg.Connections = flags.connections
	}
	if fs.Changed("threads") {
		cfg.Threads = flags.threads
	}
	if fs.Changed("duration") {
		d, err := config.ParseTime(flags.duration)
		if err != nil {
			return nil, err
		}
		cfg.Duration = d
	}
	if fs.Changed("rate") {
		r, err := config.ParseMetric(flags.rate)
		if err != nil {
			return nil, err
		}
		cfg.Rate = r
	}
	if fs.Changed("timeout") {
		d, err := config.ParseTime(flags.timeout)
		if err != nil {
			return nil, err
		}
		cfg.Timeout = d
	}
	if fs.Changed("warmup_timeout") {
		d, err := config.ParseTime(flags.warmupTimeout)
		if err != nil {
			return nil, err
		}
		cfg.WarmupTimeout = d
	}
	if fs.Changed("script") {
		cfg.ScriptPath = flags.script
	}
	if fs.Changed("header") {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, h := range flags.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return nil, fmt.Errorf("config: invalid -H/--header %q, want 'Name: value'", h)
			}
			cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	if fs.Changed("warmup") {
		cfg.Warmup = flags.warmup
	}
	if fs.Changed("batch_latency") {
		cfg.RecordAll = !flags.batchLatency
	}
	if fs.Changed("local_ip") {
		cfg.LocalAddrs = splitNonEmpty(flags.localIP, ",")
	}
	if fs.Changed("method") {
		cfg.Method = flags.method
	}
	if fs.Changed("body") {
		cfg.Body = []byte(flags.body)
	}
	cfg.JSONReport = flags.json
	cfg.PrintLatency = flags.latency
	cfg.PrintULatency = flags.uLatency
	cfg.RunProfilePath = flags.profile

	return cfg, nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// buildHookFactory wires the optional --extract-json/--validate-schema
// decorators (spec §9's "supplemented, not in the distillation" script
// capabilities) around the per-worker DefaultHook. Returns nil when
// neither is set, so coordinator.Run falls back to its own compiled-in
// default without an extra indirection layer.
func buildHookFactory(cfg *config.Config, flags *cliFlags) coordinator.HookFactory {
	if flags.extractJSON == "" && flags.validateSchema == "" {
		return nil
	}

	var schemaContents string
	if flags.validateSchema != "" {
		data, err := os.ReadFile(flags.validateSchema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wrkgo: --validate-schema: %v\n", err)
		} else {
			schemaContents = string(data)
		}
	}

	template := coordinator.BuildRequestTemplate(cfg)
	return func(threadID int) scripthook.Hook {
		var hook scripthook.Hook = scripthook.NewDefaultHook(template)
		if flags.extractJSON != "" {
			hook = scripthook.NewJSONExtractHook(hook, flags.extractJSON)
		}
		if schemaContents != "" {
			hook = scripthook.NewSchemaValidateHook(hook, schemaContents)
		}
		return hook
	}
}
