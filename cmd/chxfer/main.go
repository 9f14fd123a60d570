package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/chxfer/internal/exitcodes"
	"github.com/johndauphine/chxfer/internal/logging"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "chxfer",
		Usage:   "Move rows between ClickHouse tables and delimited files",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "chxfer.yaml",
				EnvVars: []string{"CHXFER_CONFIG"},
				Usage:   "Path to configuration file (built-in defaults when the default path is missing)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)

			if err := logging.SetFormat(c.String("log-format")); err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP and websocket server",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides server.addr)",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Export a table (or a join of two tables) to a delimited file",
				Action: runExport,
				Flags: append(append(connectionFlags(), tableFlags(true)...), fileFlags(false)...),
			},
			{
				Name:   "import",
				Usage:  "Import a delimited file into a table",
				Action: runImport,
				Flags:  append(append(connectionFlags(), tableFlags(false)...), fileFlags(true)...),
			},
			{
				Name:   "preview",
				Usage:  "Show the first rows of a table or a file",
				Action: runPreview,
				Flags: append(append(append(connectionFlags(), tableFlags(true)...), fileFlags(false)...),
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Rows to show (capped by transfer.preview_limit)",
					},
				),
			},
			{
				Name:   "columns",
				Usage:  "List tables, the columns of --table, or the columns of --file",
				Action: runColumns,
				Flags: append(connectionFlags(),
					&cli.StringFlag{Name: "table", Aliases: []string{"t"}, Usage: "Table name"},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "File under the storage root"},
					&cli.StringFlag{Name: "delimiter", Aliases: []string{"d"}, Usage: `Field delimiter ("\t" for tab)`},
					&cli.BoolFlag{Name: "no-header", Usage: "File has no header row"},
					&cli.StringFlag{Name: "encoding", Usage: "File encoding: utf-8, latin1, windows-1252"},
				),
			},
			{
				Name:   "files",
				Usage:  "List files under the storage root",
				Action: listFiles,
			},
			{
				Name:   "health",
				Usage:  "Check the database connection and the storage root",
				Action: runHealth,
				Flags:  connectionFlags(),
			},
			{
				Name:  "history",
				Usage: "List recorded transfers, or view details of one",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "id",
						Usage: "Show details for a specific transfer",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of transfers to list",
					},
				},
				Action: showHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, exitcodes.Description(code))
		os.Exit(code)
	}
}

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "ClickHouse host (overrides clickhouse.host)"},
		&cli.IntFlag{Name: "port", Usage: "ClickHouse native port"},
		&cli.StringFlag{Name: "database", Usage: "Database name"},
		&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User name"},
		&cli.StringFlag{Name: "token", EnvVars: []string{"CHXFER_TOKEN"}, Usage: "Password or access token"},
		&cli.BoolFlag{Name: "secure", Usage: "Connect with TLS"},
	}
}

func tableFlags(withJoin bool) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "table", Aliases: []string{"t"}, Usage: "Table name"},
		&cli.StringSliceFlag{Name: "columns", Usage: "Columns, comma separated (\"col\" or \"table.col\"); default all"},
		&cli.IntFlag{Name: "batch-size", Usage: "Rows per batch (overrides transfer.batch_size)"},
	}
	if withJoin {
		flags = append(flags,
			&cli.StringFlag{Name: "join-table", Usage: "Table to join"},
			&cli.StringFlag{Name: "left-key", Usage: "Join key on the base table"},
			&cli.StringFlag{Name: "right-key", Usage: "Join key on the joined table"},
			&cli.StringFlag{Name: "join-kind", Value: "INNER", Usage: "INNER or LEFT"},
		)
	}
	return flags
}

func fileFlags(required bool) []cli.Flag {
	usage := "File under the storage root"
	if !required {
		usage += " (exports default to export_<table>_<timestamp>.csv)"
	}
	return []cli.Flag{
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: required, Usage: usage},
		&cli.StringFlag{Name: "delimiter", Aliases: []string{"d"}, Usage: `Field delimiter ("\t" for tab)`},
		&cli.BoolFlag{Name: "no-header", Usage: "File has no header row"},
		&cli.StringFlag{Name: "encoding", Usage: "File encoding: utf-8, latin1, windows-1252"},
	}
}
