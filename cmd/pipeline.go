package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/db"
	"github.com/sells-group/territory-cli/internal/journal"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/territory"
)

// opFunc is one tracked pipeline operation. Phases reported through onPhase
// are journaled as they finish; the returned summary is stored on success.
type opFunc func(ctx context.Context, pool *pgxpool.Pool, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error)

// runOp validates config for mode, opens the datastore, and runs fn with
// journal and metrics bookkeeping around it. The pool is owned here and
// closed before returning.
func runOp(parent context.Context, mode, op string, fn opFunc) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(mode); err != nil {
		return err
	}

	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		zap.L().Warn("run journal unavailable, continuing without it", zap.Error(err))
		j = journal.Nop{}
	}
	defer j.Close() //nolint:errcheck

	return track(ctx, j, metrics.NewRecorder(), cfg.Metrics.Textfile, op, func(ctx context.Context, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error) {
		pool, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return fn(ctx, pool, rec, onPhase)
	})
}

// track records op in j and rec around fn. Bookkeeping failures are logged
// and never change the operation's result.
func track(ctx context.Context, j journal.Journal, rec *metrics.Recorder, textfile, op string,
	fn func(ctx context.Context, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error),
) error {
	log := zap.L().With(zap.String("op", op))
	start := time.Now()

	run, err := j.Begin(ctx, op)
	if err != nil {
		log.Warn("journal: begin run failed", zap.Error(err))
		run = &journal.Run{}
	}

	// Bookkeeping uses a fresh context so an interrupted run is still recorded.
	bg := context.WithoutCancel(ctx)

	onPhase := func(phase, detail string) {
		if run.ID == "" {
			return
		}
		if err := j.RecordPhase(bg, run.ID, phase, journal.StatusComplete, detail); err != nil {
			log.Warn("journal: record phase failed", zap.String("phase", phase), zap.Error(err))
		}
	}

	summary, opErr := fn(ctx, rec, onPhase)
	rec.Duration(op, time.Since(start))

	if opErr != nil {
		phase := territory.FailedPhase(opErr)
		rec.Failure(op, phase)
		if run.ID != "" {
			if phase != "" {
				if err := j.RecordPhase(bg, run.ID, phase, journal.StatusFailed, opErr.Error()); err != nil {
					log.Warn("journal: record phase failed", zap.Error(err))
				}
			}
			if err := j.Fail(bg, run.ID, opErr); err != nil {
				log.Warn("journal: fail run failed", zap.Error(err))
			}
		}
	} else if run.ID != "" {
		if err := j.Complete(bg, run.ID, summary); err != nil {
			log.Warn("journal: complete run failed", zap.Error(err))
		}
	}

	if err := rec.WriteTextfile(textfile); err != nil {
		log.Warn("metrics: textfile write failed", zap.Error(err))
	}

	if opErr != nil {
		return eris.Wrap(opErr, op)
	}
	return nil
}
