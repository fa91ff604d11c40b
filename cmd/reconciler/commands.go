package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hako/durafmt"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
	"github.com/0xmdrakib/2048TX/pkg/season"
	"github.com/0xmdrakib/2048TX/pkg/utils"
)

var errNoArchive = errors.New("no snapshot archive enabled (set --clickhouse-archive or --kafka-archive)")

// oneShot prepares what every single-run command needs: config, logger, a
// signal-aware context and the Redis repositories.
func oneShot(c *cli.Context, fn func(ctx context.Context, cfg *Config, st *stores, log *zap.SugaredLogger) error) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg, sugar)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, cfg, st, sugar)
}

func index(c *cli.Context) error {
	return oneShot(c, func(ctx context.Context, cfg *Config, st *stores, log *zap.SugaredLogger) error {
		reader, err := dialLedger(ctx, cfg, log, nil)
		if err != nil {
			return fmt.Errorf("failed to create ledger reader: %w", err)
		}
		defer reader.Close()

		ix, err := newIndexer(st, reader, cfg, log, nil)
		if err != nil {
			return fmt.Errorf("failed to create indexer: %w", err)
		}

		maxBlocks := c.Uint64("max-blocks")
		if name := c.String("stream"); name != "" {
			stream, err := checkpointer.ParseStream(name)
			if err != nil {
				return err
			}
			res, err := ix.Index(ctx, stream, maxBlocks)
			if res != nil {
				printJSON(c.App.Writer, res)
			}
			return err
		}
		results, err := ix.IndexAll(ctx, maxBlocks)
		printJSON(c.App.Writer, results)
		return err
	})
}

func finalize(c *cli.Context) error {
	return oneShot(c, func(ctx context.Context, cfg *Config, st *stores, log *zap.SugaredLogger) error {
		archives, err := openSinks(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to open snapshot archives: %w", err)
		}
		defer archives.Close()

		res, err := newFinalizer(st, archives.archivers, cfg, log, nil).FinalizeCompletedWindows(ctx)
		if res != nil {
			printJSON(c.App.Writer, res)
		}
		return err
	})
}

func dispatch(c *cli.Context) error {
	return oneShot(c, func(ctx context.Context, cfg *Config, st *stores, log *zap.SugaredLogger) error {
		res, err := newDispatcher(st, cfg, log, nil).DispatchDue(ctx, time.Now().Unix(), int64(cfg.BatchLimit))
		if res != nil {
			printJSON(c.App.Writer, res)
		}
		return err
	})
}

func seasonCmd(c *cli.Context) error {
	return oneShot(c, func(ctx context.Context, _ *Config, st *stores, _ *zap.SugaredLogger) error {
		return printSeason(ctx, c.App.Writer, st, time.Now())
	})
}

// printSeason writes the window containing now without anchoring an epoch.
func printSeason(ctx context.Context, w io.Writer, st *stores, now time.Time) error {
	epoch, ok, err := st.rankings.Epoch(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "epoch: not anchored (the first index or finalize run sets it)")
		return nil
	}
	last, err := st.snapshots.LastSnapshotted(ctx)
	if err != nil {
		return err
	}

	meta := season.CurrentWindowMeta(epoch, now.Unix())
	left := durafmt.Parse(time.Duration(meta.SecondsLeft) * time.Second).LimitFirstN(2)
	fmt.Fprintf(w, "epoch:             %s\n", isoTime(epoch))
	fmt.Fprintf(w, "window:            %d\n", meta.Index)
	fmt.Fprintf(w, "starts:            %s\n", isoTime(meta.Start))
	fmt.Fprintf(w, "ends:              %s\n", isoTime(meta.End))
	fmt.Fprintf(w, "time left:         %s\n", left)
	if last < 0 {
		fmt.Fprintln(w, "last snapshotted:  none")
	} else {
		fmt.Fprintf(w, "last snapshotted:  %d\n", last)
	}
	return nil
}

func reset(c *cli.Context) error {
	return oneShot(c, func(ctx context.Context, _ *Config, st *stores, log *zap.SugaredLogger) error {
		streams, err := parseStreams(c.StringSlice("streams"))
		if err != nil {
			return err
		}
		return resetState(ctx, st, streams, c.Bool("epoch"), c.Bool("snapshots"), log)
	})
}

// parseStreams accepts repeated or comma-separated stream names.
func parseStreams(raw []string) ([]checkpointer.Stream, error) {
	var out []checkpointer.Stream
	for _, r := range raw {
		for _, name := range strings.Split(r, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "all" {
				return checkpointer.Streams, nil
			}
			s, err := checkpointer.ParseStream(name)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// resetState removes watermarks, the epoch and snapshot history. Rankings
// are kept: the all-time ranking is monotonic and window rankings are keyed
// by index.
func resetState(ctx context.Context, st *stores, streams []checkpointer.Stream, epoch, snapshots bool, log *zap.SugaredLogger) error {
	if len(streams) == 0 && !epoch && !snapshots {
		return errors.New("nothing to reset: pass --streams, --epoch or --snapshots")
	}
	if len(streams) > 0 {
		if err := st.checkpoints.Delete(ctx, streams...); err != nil {
			return err
		}
		log.Infow("watermarks removed", "streams", streams)
	}
	if epoch {
		if err := st.rankings.DeleteEpoch(ctx); err != nil {
			return err
		}
		log.Info("epoch removed")
	}
	if snapshots {
		n, err := st.snapshots.Reset(ctx)
		if err != nil {
			return err
		}
		log.Infow("snapshot history removed", "records", n)
	}
	return nil
}

// archive re-sends one stored snapshot to every enabled archive, for
// example after an archive outage outlasted the finalizer's retries.
func archive(c *cli.Context) error {
	return oneShot(c, func(ctx context.Context, cfg *Config, st *stores, log *zap.SugaredLogger) error {
		w := c.Int64("week")
		if w < 0 {
			return fmt.Errorf("week must not be negative, got %d", w)
		}
		rec, ok, err := st.snapshots.Get(ctx, w)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("window %d has no stored snapshot", w)
		}

		archives, err := openSinks(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to open snapshot archives: %w", err)
		}
		defer archives.Close()
		if len(archives.archivers) == 0 {
			return errNoArchive
		}

		for _, a := range archives.archivers {
			if err := a.Archive(ctx, *rec); err != nil {
				return fmt.Errorf("archive window %d to %s: %w", w, a.Name(), err)
			}
			log.Infow("window archived", "window", w, "sink", a.Name(), "entries", len(rec.Top))
		}

		if archives.clickhouse != nil {
			rows, err := archives.clickhouse.ReadWindow(ctx, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "window %d: %d entries stored, %d rows archived\n", w, len(rec.Top), len(rows))
		}
		return nil
	})
}

func isoTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
