// Package cli is the bucketdesk command line: the web server plus one-shot
// commands that drive a desk from the terminal.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/koustreak/bucketdesk/internal/config"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/provider"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/spf13/cobra"
)

const (
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
)

// StoreOpener connects to the configured bucket.
type StoreOpener func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)

// Option configures the command tree.
type Option func(*env)

// WithStoreOpener replaces provider.Open, for tests.
func WithStoreOpener(open StoreOpener) Option {
	return func(e *env) { e.openStore = open }
}

// WithLogOutput sends logs to w instead of the command's stderr.
func WithLogOutput(w io.Writer) Option {
	return func(e *env) { e.logOutput = w }
}

type env struct {
	openStore StoreOpener
	logOutput io.Writer
}

// RootCmd builds the bucketdesk command and all subcommands.
func RootCmd(opts ...Option) *cobra.Command {
	e := &env{openStore: provider.Open}
	for _, opt := range opts {
		opt(e)
	}

	r := &cobra.Command{
		Use:          "bucketdesk",
		Short:        "bucketdesk is a small file manager for one object-storage bucket.",
		SilenceUsage: true,
	}
	r.PersistentFlags().String(FlagConfig, "", "path to a YAML config file")
	r.PersistentFlags().String(FlagLogLevel, "", "log level. debug|info|warn|error")

	r.AddCommand(
		serveCmd(e),
		lsCmd(e),
		putCmd(e),
		getCmd(e),
		openCmd(e),
		rmCmd(e),
		activityCmd(e),
		configCmd(e),
	)
	return r
}

// loadConfig reads --config and applies --log-level, then installs the
// global logger.
func (e *env) loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	path, _ := cmd.Flags().GetString(FlagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString(FlagLogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}

	out := e.logOutput
	if out == nil {
		out = cmd.ErrOrStderr()
	}
	log := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: cfg.Log.TimeFormat,
		Service:    "bucketdesk",
		Output:     out,
	})
	logger.SetGlobal(log)
	return cfg, log, nil
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   filestore.Store
	journal journal.Journal
}

func (e *env) open(cmd *cobra.Command) (*app, error) {
	cfg, log, err := e.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	store, err := e.openStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	j, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &app{cfg: cfg, log: log, store: store, journal: j}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.log.With().Err(err).Logger().Warn("closing journal")
	}
	if err := a.store.Close(); err != nil {
		a.log.With().Err(err).Logger().Warn("closing storage")
	}
}

// desk starts a desk for a one-shot command. Its notifications are printed
// to w as they come out of each view.
func (a *app) desk(ctx context.Context, w io.Writer) (*desk.Desk, error) {
	d := desk.New(a.store, a.cfg.DeskConfig(),
		desk.WithJournal(a.journal),
		desk.WithLogger(a.log),
	)
	if err := d.Start(ctx); err != nil {
		printNotes(w, d.View().Notifications)
		d.Close()
		return nil, err
	}
	return d, nil
}

func printNotes(w io.Writer, notes []notify.Notification) {
	for _, n := range notes {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	}
}
