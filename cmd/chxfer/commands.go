package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/johndauphine/chxfer/internal/exitcodes"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/metrics"
	"github.com/johndauphine/chxfer/internal/orchestrator"
	"github.com/johndauphine/chxfer/internal/progress"
	"github.com/johndauphine/chxfer/internal/server"
	"github.com/johndauphine/chxfer/internal/transfer"
)

const (
	// metricsPushInterval is how often serve pushes to the gateway.
	metricsPushInterval = 15 * time.Second
	// reporterGrace bounds the wait for the final progress line.
	reporterGrace = 2 * time.Second
)

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.history != nil {
		if n, err := e.history.MarkInterrupted(); err != nil {
			logging.Warn("history: %v", err)
		} else if n > 0 {
			logging.Warn("%d transfers from a previous process were marked FAILED", n)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(e.mgr, cfg.Server).Run(gctx)
	})
	if cfg.Metrics.PushgatewayURL != "" {
		g.Go(func() error {
			ticker := time.NewTicker(metricsPushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := metrics.Flush(); err != nil {
						logging.Warn("pushing metrics: %v", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

func runExport(c *cli.Context) error {
	return runTransfer(c, transfer.DBToFile)
}

func runImport(c *cli.Context) error {
	return runTransfer(c, transfer.FileToDB)
}

// runTransfer starts one transfer, reports progress on stderr, and returns
// its error so the exit code reflects the terminal state.
func runTransfer(c *cli.Context, dir transfer.Direction) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	file, err := fileSpec(c)
	if err != nil {
		return err
	}

	var reporter progress.Publisher
	if term.IsTerminal(int(os.Stderr.Fd())) && c.String("log-format") != "json" {
		reporter = progress.NewBarReporter(os.Stderr)
	} else {
		reporter = progress.NewJSONReporter(os.Stderr, cfg.Transfer.ProgressInterval)
	}

	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	// The reporter follows the run through the broker so a slow terminal
	// never holds up the batch loop.
	sub := e.mgr.Subscribe()
	defer sub.Close()

	req := transfer.Request{
		Direction: dir,
		Conn:      connection(c),
		Table:     tableSpec(c),
		File:      file,
		BatchSize: c.Int("batch-size"),
	}
	h, err := e.mgr.StartTransfer(context.Background(), req)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.ValidationError)
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		if err := progress.Relay(relayCtx, sub, string(h), reporter); err != nil && !errors.Is(err, context.Canceled) {
			logging.Debug("progress relay: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Finishing the current batch...")
		if err := e.mgr.Cancel(h); err != nil && !errors.Is(err, orchestrator.ErrTransferFinished) {
			logging.Warn("cancel: %v", err)
		}
	}()

	res, err := e.mgr.Wait(context.Background(), h)
	if err != nil {
		return err
	}
	select {
	case <-relayed:
	case <-time.After(reporterGrace):
		logging.Debug("progress output still pending, not waiting for it")
	}

	if res.ParseErrorCount > 0 {
		logging.Warn("%d malformed records skipped", res.ParseErrorCount)
		for _, pe := range res.ParseErrors {
			logging.Debug("  %s", pe.Error())
		}
	}
	if res.Status == progress.PhaseDone {
		logging.Info("Wrote %d rows (%s), digest %s", res.Rows, res.File, res.Digest)
	}

	if err := outputJSON(c, res); err != nil {
		logging.Warn("failed to output JSON: %v", err)
	}
	return res.Err
}

func runPreview(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	file, err := fileSpec(c)
	if err != nil {
		return err
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	// A file without a table previews the file.
	dir := transfer.DBToFile
	if file.Path != "" && c.String("table") == "" {
		dir = transfer.FileToDB
	}
	pv, err := e.mgr.Preview(context.Background(), transfer.PreviewRequest{
		Direction: dir,
		Conn:      connection(c),
		Table:     tableSpec(c),
		File:      file,
		Limit:     c.Int("limit"),
	})
	if err != nil {
		return err
	}

	if c.Bool("output-json") {
		return printJSON(pv)
	}
	fmt.Println(renderPreview(pv))
	for _, pe := range pv.ParseErrors {
		fmt.Println(styleWarning.Render(pe.Error()))
	}
	return nil
}

func runColumns(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := context.Background()
	asJSON := c.Bool("output-json")

	switch {
	case c.String("file") != "":
		spec, err := fileSpec(c)
		if err != nil {
			return err
		}
		names, err := e.mgr.FileColumns(spec)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(names)
		}
		for i, n := range names {
			fmt.Printf("%3d  %s\n", i+1, n)
		}

	case c.String("table") != "":
		cols, err := e.mgr.ListColumns(ctx, connection(c), c.String("table"))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cols)
		}
		fmt.Printf("%-40s %s\n", "Column", "Type")
		for _, col := range cols {
			fmt.Printf("%-40s %s\n", col.Name, col.Type)
		}

	default:
		tables, err := e.mgr.ListTables(ctx, connection(c))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(tables)
		}
		for _, t := range tables {
			fmt.Println(t)
		}
	}
	return nil
}

func listFiles(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	files, err := e.mgr.ListFiles()
	if err != nil {
		return err
	}
	if c.Bool("output-json") {
		return printJSON(files)
	}
	if len(files) == 0 {
		fmt.Printf("No files under %s\n", e.mgr.Root().Dir())
		return nil
	}
	fmt.Printf("%-50s %14s  %s\n", "Path", "Size", "Modified")
	for _, f := range files {
		fmt.Printf("%-50s %14d  %s\n", f.Path, f.Size, f.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runHealth(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.mgr.HealthCheck(context.Background(), connection(c))
	if err != nil {
		return err
	}
	if c.Bool("output-json") {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Printf("Database:  %s (%d ms, %d tables)\n", okText(res.Connected), res.LatencyMs, res.TableCount)
		if res.Error != "" {
			fmt.Printf("           %s\n", res.Error)
		}
		fmt.Printf("Storage:   %s (%s)\n", okText(res.StorageWritable), res.StorageRoot)
		if res.StorageError != "" {
			fmt.Printf("           %s\n", res.StorageError)
		}
	}
	if !res.Connected {
		return exitcodes.NewExitError(errors.New("database unreachable"), exitcodes.ConnectionError)
	}
	if !res.StorageWritable {
		return exitcodes.NewExitError(errors.New("storage root not writable"), exitcodes.IOError)
	}
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.History.IsEnabled() {
		return exitcodes.NewExitError(errors.New("transfer history is disabled (history.enabled: false)"), exitcodes.StateError)
	}
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	if id := c.String("id"); id != "" {
		if c.Bool("output-json") {
			rec, err := h.GetRun(id)
			if err != nil {
				return err
			}
			if rec == nil {
				return exitcodes.NewExitError(fmt.Errorf("transfer %s not found in history", id), exitcodes.StateError)
			}
			return printJSON(rec)
		}
		return orchestrator.ShowTransferDetails(os.Stdout, h, id)
	}

	if c.Bool("output-json") {
		runs, err := h.GetAllRuns(c.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(runs)
	}
	return orchestrator.ShowHistory(os.Stdout, h, c.Int("limit"))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// outputJSON writes the transfer result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result transfer.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}
	return nil
}
