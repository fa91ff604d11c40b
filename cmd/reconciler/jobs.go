package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/internal/api"
	"github.com/0xmdrakib/2048TX/pkg/scheduler"
)

// indexJob advances both streams and then finalizes closed windows. The
// finalizer runs even when indexing fails: it only reads window rankings
// that are already committed.
func indexJob(ix api.Indexer, fin api.Finalizer, maxBlocks uint64) scheduler.Job {
	return func(ctx context.Context) error {
		var errs []error
		if _, err := ix.IndexAll(ctx, maxBlocks); err != nil {
			errs = append(errs, fmt.Errorf("index: %w", err))
		}
		if _, err := fin.FinalizeCompletedWindows(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finalize: %w", err))
		}
		return errors.Join(errs...)
	}
}

// dispatchJob delivers up to limit due reminders per run.
func dispatchJob(d api.Dispatcher, limit int, now func() time.Time, log *zap.SugaredLogger) scheduler.Job {
	return func(ctx context.Context) error {
		res, err := d.DispatchDue(ctx, now().Unix(), int64(limit))
		if err != nil {
			return err
		}
		if res.Due > 0 {
			log.Infow("dispatch run",
				"due", res.Due,
				"sent", res.Sent,
				"invalid", res.Invalid,
				"rate_limited", res.RateLimited,
				"errors", res.Errors,
				"stale", res.Stale,
			)
		}
		return nil
	}
}
