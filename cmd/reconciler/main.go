package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "reconciler",
		Usage: "Index 2048 TX score submissions, snapshot weekly seasons and send reminders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Load environment variables from this file before running (missing file is an error)",
				EnvVars: []string{"ENV_FILE"},
			},
		},
		Before: loadEnvFile,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Serve the HTTP trigger surface and metrics, optionally driving jobs on intervals",
				Flags:  flagSet([]cli.Flag{verboseFlag()}, ledgerFlags(), archiveFlags(), notifyFlags(), metricsFlags(), serveFlags()),
				Action: run,
			},
			{
				Name:  "index",
				Usage: "Advance the leaderboard streams once",
				Flags: flagSet([]cli.Flag{
					verboseFlag(),
					&cli.Uint64Flag{
						Name:    "max-blocks",
						Usage:   "Maximum number of blocks per stream (0 indexes up to head)",
						EnvVars: []string{"INDEX_MAX_BLOCKS"},
					},
					&cli.StringFlag{
						Name:  "stream",
						Usage: "Index only this stream (alltime or weekly)",
					},
				}, ledgerFlags()),
				Action: index,
			},
			{
				Name:   "finalize",
				Usage:  "Snapshot every closed weekly window once",
				Flags:  flagSet([]cli.Flag{verboseFlag()}, ledgerFlags(), archiveFlags()),
				Action: finalize,
			},
			{
				Name:   "dispatch",
				Usage:  "Send due reminders once",
				Flags:  flagSet([]cli.Flag{verboseFlag()}, notifyFlags()),
				Action: dispatch,
			},
			{
				Name:   "season",
				Usage:  "Print the current weekly window and the time left",
				Flags:  []cli.Flag{verboseFlag()},
				Action: seasonCmd,
			},
			{
				Name:  "reset",
				Usage: "Remove watermarks, the epoch or the snapshot history (out-of-band reset)",
				Flags: []cli.Flag{
					verboseFlag(),
					&cli.StringSliceFlag{
						Name:  "streams",
						Usage: "Streams whose watermark is removed (alltime, weekly or all)",
					},
					&cli.BoolFlag{
						Name:  "epoch",
						Usage: "Remove the season epoch; the next run anchors a new one",
					},
					&cli.BoolFlag{
						Name:  "snapshots",
						Usage: "Remove every stored snapshot and the snapshot watermark",
					},
				},
				Action: reset,
			},
			{
				Name:  "archive",
				Usage: "Send one stored window snapshot to the enabled archives again",
				Flags: flagSet([]cli.Flag{
					verboseFlag(),
					&cli.Int64Flag{
						Name:     "week",
						Aliases:  []string{"w"},
						Usage:    "The window index to archive",
						Required: true,
					},
				}, archiveFlags()),
				Action: archive,
			},
		},
	}
}

// loadEnvFile loads --env-file into the process environment. Variables that
// are already set win.
func loadEnvFile(c *cli.Context) error {
	path := c.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
