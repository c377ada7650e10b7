package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/bunny/client"
	"github.com/adamwoolhether/bunny/control"
	"github.com/adamwoolhether/bunny/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type Config struct {
	Zone     string
	Region   string
	Password string
	APIKey   string
	Timeout  time.Duration
	RPS      int
	Verbose  bool
}

// newRootCmd builds the command tree. Every call returns a fresh tree with
// its own configuration.
func newRootCmd() *cobra.Command {
	cfg := &Config{}

	root := &cobra.Command{
		Use:           "bunnyctl",
		Short:         "Manage bunny.net Edge Storage and the CDN cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of bunnyctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bunnyctl %s\n", version)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cfg.Zone, "zone", "z", os.Getenv("BUNNY_STORAGE_ZONE"), "Storage zone name")
	flags.StringVarP(&cfg.Region, "region", "r", os.Getenv("BUNNY_STORAGE_REGION"), "Storage region code or endpoint URL")
	flags.StringVar(&cfg.Password, "password", "", "Storage zone password (default $BUNNY_STORAGE_PASSWORD)")
	flags.StringVar(&cfg.APIKey, "api-key", "", "Account API key (default $BUNNY_API_KEY)")
	flags.DurationVar(&cfg.Timeout, "timeout", client.DefaultTimeout, "Deadline of every operation including streamed bodies, 0 for none")
	flags.IntVar(&cfg.RPS, "rps", 0, "Maximum requests per second, 0 for unlimited")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(versionCmd)
	root.AddCommand(storageCmds(cfg)...)
	root.AddCommand(controlCmds(cfg)...)

	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch {
	case errors.Is(err, client.ErrConfig):
		return 2
	case errors.Is(err, client.ErrNotFound):
		return 3
	case errors.Is(err, client.ErrAuth):
		return 4
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func (cfg *Config) clientOptions(cmd *cobra.Command) []client.Option {
	opts := []client.Option{
		client.WithLogger(newLogger(cmd.ErrOrStderr(), cfg.Verbose)),
		client.WithUserAgent("bunnyctl/" + version),
		client.WithTimeout(cfg.Timeout),
	}
	if cfg.RPS > 0 {
		opts = append(opts, client.WithThrottle(cfg.RPS, cfg.RPS))
	}

	return opts
}

func (cfg *Config) zone(cmd *cobra.Command) (*storage.Zone, error) {
	password := cfg.Password
	if password == "" {
		password = os.Getenv("BUNNY_STORAGE_PASSWORD")
	}
	if password == "" {
		return nil, fmt.Errorf("%w: storage password missing, set --password or BUNNY_STORAGE_PASSWORD", client.ErrConfig)
	}

	region, err := storage.ParseRegion(cfg.Region)
	if err != nil {
		return nil, err
	}

	return storage.New(password, region, cfg.Zone, cfg.clientOptions(cmd)...)
}

func (cfg *Config) controlClient(cmd *cobra.Command) (*control.Client, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("BUNNY_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("%w: api key missing, set --api-key or BUNNY_API_KEY", client.ErrConfig)
	}

	endpoint := os.Getenv("BUNNY_API_ENDPOINT")
	if endpoint == "" {
		endpoint = control.DefaultBaseURL
	}

	return control.NewWithEndpoint(endpoint, key, cfg.clientOptions(cmd)...)
}
