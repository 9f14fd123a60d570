package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/chxfer/internal/checkpoint"
	"github.com/johndauphine/chxfer/internal/config"
	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/driver/clickhouse"
	"github.com/johndauphine/chxfer/internal/exitcodes"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/metrics"
	"github.com/johndauphine/chxfer/internal/metrics/prompush"
	"github.com/johndauphine/chxfer/internal/notify"
	"github.com/johndauphine/chxfer/internal/orchestrator"
	"github.com/johndauphine/chxfer/internal/transfer"
)

// env is everything a command needs, built from the config file.
type env struct {
	cfg     *config.Config
	mgr     *orchestrator.Manager
	history checkpoint.HistoryBackend
}

// loadConfig reads --config. A missing file at the default path falls back
// to built-in defaults; an explicit path must exist.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !c.IsSet("config") {
		logging.Debug("no config at %s, using defaults", path)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
	}
	return cfg, nil
}

func openHistory(cfg *config.Config) (checkpoint.HistoryBackend, error) {
	if !cfg.History.IsEnabled() {
		return nil, nil
	}
	var (
		h   checkpoint.HistoryBackend
		err error
	)
	switch cfg.History.Backend {
	case "file":
		h, err = checkpoint.NewFileState(cfg.History.File)
	default:
		h, err = checkpoint.New(cfg.History.DataDir)
	}
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("opening transfer history: %w", err), exitcodes.StateError)
	}
	if n, err := h.CleanupOldRuns(cfg.History.RetentionDays); err != nil {
		logging.Warn("history cleanup failed: %v", err)
	} else if n > 0 {
		logging.Debug("removed %d transfers older than %d days from history", n, cfg.History.RetentionDays)
	}
	return h, nil
}

// newEnv wires the engine.
func newEnv(cfg *config.Config) (*env, error) {
	for _, w := range cfg.Warnings() {
		logging.Warn("%s", w)
	}

	d, err := driver.Get("clickhouse")
	if err != nil {
		return nil, err
	}
	if chd, ok := d.(*clickhouse.Driver); ok {
		chd.DialTimeout = cfg.ClickHouse.DialTimeout
	}

	fileDefaults, err := cfg.FileDefaults()
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
	}
	root, err := flatfile.NewRoot(cfg.Storage.Root)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("storage root: %w", err), exitcodes.IOError)
	}

	if url := cfg.Metrics.PushgatewayURL; url != "" {
		b, err := prompush.NewBackend(cfg.Metrics.Job, url)
		if err != nil {
			return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
		}
		metrics.SetBackend(b)
	}

	history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}

	opts := orchestrator.Options{
		Runner: transfer.NewRunner(d, root, transfer.Options{
			BatchSize:          cfg.Transfer.BatchSize,
			MalformedThreshold: cfg.Transfer.MalformedThreshold,
			MaxParseErrors:     cfg.Transfer.MaxParseErrors,
			PreviewLimit:       cfg.Transfer.PreviewLimit,
		}),
		DefaultConn:  cfg.Connection(),
		FileDefaults: fileDefaults,
		History:      history,
	}
	if n := notify.New(&cfg.Notify); n.IsEnabled() {
		opts.Notifier = n
	}
	mgr, err := orchestrator.New(opts)
	if err != nil {
		if history != nil {
			history.Close()
		}
		return nil, err
	}
	return &env{cfg: cfg, mgr: mgr, history: history}, nil
}

// Close stops the manager, pushes metrics, and closes history.
func (e *env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.mgr.Close(ctx); err != nil {
		logging.Warn("%v", err)
	}
	if err := metrics.Flush(); err != nil {
		logging.Warn("pushing metrics: %v", err)
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			logging.Warn("closing history: %v", err)
		}
	}
}

// connection reads the connection flags; unset fields fall back to the
// config inside the manager.
func connection(c *cli.Context) driver.ConnectionSpec {
	return driver.ConnectionSpec{
		Host:     c.String("host"),
		Port:     c.Int("port"),
		Database: c.String("database"),
		User:     c.String("user"),
		Token:    c.String("token"),
		Secure:   c.Bool("secure"),
	}
}

func tableSpec(c *cli.Context) driver.TableSpec {
	t := driver.TableSpec{Name: c.String("table"), Columns: c.StringSlice("columns")}
	if jt := c.String("join-table"); jt != "" {
		t.Join = &driver.JoinSpec{
			Table:    jt,
			LeftKey:  c.String("left-key"),
			RightKey: c.String("right-key"),
			Kind:     driver.JoinKind(c.String("join-kind")),
		}
	}
	return t
}

func fileSpec(c *cli.Context) (flatfile.FileSpec, error) {
	d, err := flatfile.ParseDelimiter(c.String("delimiter"))
	if err != nil {
		return flatfile.FileSpec{}, exitcodes.NewExitError(err, exitcodes.ValidationError)
	}
	return flatfile.FileSpec{
		Path:      c.String("file"),
		Delimiter: d,
		Header:    !c.Bool("no-header"),
		Encoding:  c.String("encoding"),
	}, nil
}
