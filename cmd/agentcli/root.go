package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/m4xw311/agentcli/agent"
	"github.com/m4xw311/agentcli/audit"
	"github.com/m4xw311/agentcli/auth"
	"github.com/m4xw311/agentcli/config"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/event"
	"github.com/m4xw311/agentcli/install"
	"github.com/m4xw311/agentcli/logging"
	"github.com/m4xw311/agentcli/plugin"
	"github.com/m4xw311/agentcli/server"
	"github.com/m4xw311/agentcli/tools"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath string
	format     string
	model      string
	logFile    string
	dryRun     bool
	verbose    bool
}

// execute runs the CLI and returns the process exit code. Failures are
// reported as a single JSON object on errOut.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	cmd := newRootCmd(in, out, errOut)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		writeError(errOut, err)
		return 1
	}
	return 0
}

func writeError(w io.Writer, err error) {
	data, mErr := event.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
		return
	}
	w.Write(data)
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "agentcli",
		Short: "Run tools from a JSON request on stdin",
		Long: `agentcli reads one request from standard input, either a JSON object
{"message": "...", "tools": [{"name": "...", "params": {...}}]} or plain text,
runs the requested tools and writes the result to standard output.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts, in, out, errOut)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Additional config file loaded after ~/.agentcli and ./.agentcli")
	pf.StringVar(&opts.logFile, "log-file", "", "Log file path ('-' disables file logging)")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "Validate edits and installs without writing (also OPENCODE_DRY_RUN)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr at debug level (also OPENCODE_VERBOSE)")
	root.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: 'simple' or 'stream'")
	root.Flags().StringVarP(&opts.model, "model", "m", "", "Model reported in responses")

	root.AddCommand(
		newToolsCmd(opts, out),
		newVersionCmd(out),
		newAuthCmd(opts, out, errOut),
		newInstallCmd(opts, out, errOut),
		newServeCmd(),
	)
	return root
}

// loadConfig layers flags over files and environment.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return config.Config{}, errors.WrapKind(errors.KindTopLevel, err, "error loading configuration")
	}
	if cmd.Flags().Changed("format") {
		cfg.Format = opts.format
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = opts.model
	}
	flags := cfg.Flags
	flags.DryRun = flags.DryRun || opts.dryRun
	flags.Verbose = flags.Verbose || opts.verbose
	cfg = cfg.WithFlags(flags)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.WrapKind(errors.KindTopLevel, err, "invalid configuration")
	}
	return cfg, nil
}

// setupLogger builds the configured logger. A log file that cannot be opened
// is reported on errOut and logging continues without it.
func setupLogger(cfg config.Config, opts *options, errOut io.Writer) (*slog.Logger, func() error) {
	file := cfg.Log.File
	if opts.logFile != "" {
		file = opts.logFile
	}
	logger, closeFn, err := logging.Setup(logging.Options{File: file, Verbose: cfg.Flags.Verbose, Console: errOut})
	if err == nil {
		return logger, closeFn
	}
	slog.New(slog.NewTextHandler(errOut, nil)).Warn("file logging disabled", "error", err)
	logger, closeFn, err = logging.Setup(logging.Options{File: logging.Disabled, Verbose: cfg.Flags.Verbose, Console: errOut})
	if err != nil {
		return logging.Discard(), func() error { return nil }
	}
	return logger, closeFn
}

func runAgent(cmd *cobra.Command, opts *options, in io.Reader, out, errOut io.Writer) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, closeLog := setupLogger(cfg, opts, errOut)
	defer closeLog()

	agentOpts := []agent.Option{agent.WithLogger(logger)}
	if len(cfg.Plugins.MCPServers) > 0 {
		provider := plugin.NewMCPProvider(ctx, cfg.Plugins.MCPServers, logger)
		defer provider.Close()
		agentOpts = append(agentOpts, agent.WithPlugins(provider))
	}
	if cfg.Audit.Database != "" {
		store, err := audit.Open(cfg.Audit.Database)
		if err != nil {
			// The audit trail is optional; the request still runs.
			logger.Warn("audit store unavailable", "path", cfg.Audit.Database, "error", err)
		} else {
			defer store.Close()
			agentOpts = append(agentOpts, agent.WithSink(store))
		}
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return errors.WrapKind(errors.KindTopLevel, err, "failed to read input")
	}

	a := agent.New(cfg, agentOpts...)
	if err := a.Run(ctx, raw, out); err != nil {
		logger.Error("request failed", "error", fmt.Sprintf("%+v", err))
		return err
	}
	logger.Info("request completed", "session", a.Session().ID)
	return nil
}

func newToolsCmd(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			registry := tools.NewToolRegistry(cfg)
			for _, t := range registry.All() {
				if _, err := registry.Resolve(t.Name()); err != nil {
					continue
				}
				fmt.Fprintf(out, "%-10s %s\n", t.Name(), t.Description())
			}
			return nil
		},
	}
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "agentcli %s\n", version)
		},
	}
}

func newAuthCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Report whether Claude CLI credentials are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, closeLog := setupLogger(cfg, opts, errOut)
			defer closeLog()

			status := map[string]any{"available": false}
			if o := auth.NewStore(logger).Get(); o != nil {
				status["available"] = true
				status["expired"] = o.Expired(time.Now())
				if o.SubscriptionType != "" {
					status["subscriptionType"] = o.SubscriptionType
				}
			}
			data, err := event.Marshal(status)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newInstallCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "install <package> [version]",
		Short: "Install an npm package into the agentcli cache with bun",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, closeLog := setupLogger(cfg, opts, errOut)
			defer closeLog()

			inst, err := install.New(cfg, logger)
			if err != nil {
				return err
			}
			ver := ""
			if len(args) == 2 {
				ver = args[1]
			}
			path, err := inst.Install(cmd.Context(), args[0], ver)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, path)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Server mode (not supported)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Unsupported{}.Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4096", "Listen address")
	return cmd
}
