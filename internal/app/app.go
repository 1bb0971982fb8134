// Package app runs one pipeline stage as a scheduled command.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/lease"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
	"github.com/Lllllllleong/pdfrasterflow/internal/observability"
)

// releaseTimeout bounds lease release after the stage context is already done.
const releaseTimeout = 10 * time.Second

// Options are the per-invocation flags.
type Options struct {
	ConfigPath string
	Date       string // YYYY-MM-DD, empty means today
	LogLevel   string
	DryRun     bool
	Now        func() time.Time
}

// Env is what a stage gets for one run. Everything in it is closed by Run.
type Env struct {
	Stage  string
	RunID  string
	Day    time.Time
	DryRun bool
	Config config.Config
	Layout *layout.Layout
	Ledger *ledger.Ledger
	RunLog *observability.RunLog
	Log    zerolog.Logger
	Now    func() time.Time
}

// StageFunc does the work of one stage and returns its result for logging.
type StageFunc func(ctx context.Context, env *Env) (interface{}, error)

// Run loads configuration, opens the run log, the layout and the ledger, takes the
// stage lease for the day and calls fn. Everything it opened is released on return.
func Run(ctx context.Context, stage string, opts Options, fn StageFunc) (err error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	day, err := resolveDay(opts.Date, now)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lay, err := layout.New(cfg.Root, cfg.Folders)
	if err != nil {
		return fmt.Errorf("failed to resolve folders: %w", err)
	}
	if err := lay.Bootstrap(); err != nil {
		return fmt.Errorf("failed to create folders: %w", err)
	}

	runID := uuid.NewString()
	runLog, err := observability.OpenRunLog(observability.LogConfig{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		FilePath: resolvePath(lay.Logs, cfg.Log.File),
		Console:  cfg.Log.Console,
		Stage:    stage,
		RunID:    runID,
	})
	if err != nil {
		return err
	}
	defer runLog.Close()

	logCtx := runLog.Logger.With().Str("day", models.Day(day)).Logger()
	logCtx.Info().Str("root", lay.Root).Msg("Stage run starting.")
	defer func() {
		if err != nil {
			logCtx.Error().Err(err).Msg("Stage run failed.")
		}
	}()

	ledgerCfg := cfg.LedgerSettings()
	if ledgerCfg.Driver == ledger.DriverSQLite {
		ledgerCfg.Path = resolvePath(lay.Root, ledgerCfg.Path)
	}
	l, err := ledger.Open(ctx, ledgerCfg)
	if err != nil {
		return err
	}
	l.SetLogger(logCtx)
	defer func() {
		if cerr := l.Close(); cerr != nil {
			logCtx.Warn().Err(cerr).Msg("Failed to close ledger.")
		}
	}()

	locker, err := lease.New(ctx, cfg.Lease, l)
	if err != nil {
		return fmt.Errorf("failed to set up stage lease: %w", err)
	}
	defer locker.Close()

	key := lease.Key{Stage: stage, Day: models.Day(day)}
	held, err := locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			logCtx.Warn().Str("lease", key.String()).Msg("Another run holds the stage lease. Exiting without work.")
		}
		return fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if rerr := held.Release(rctx); rerr != nil {
			logCtx.Warn().Err(rerr).Msg("Failed to release stage lease.")
		}
	}()

	env := &Env{
		Stage:  stage,
		RunID:  runID,
		Day:    day,
		DryRun: opts.DryRun,
		Config: cfg,
		Layout: lay,
		Ledger: l,
		RunLog: runLog,
		Log:    logCtx,
		Now:    now,
	}
	start := now()
	res, err := fn(ctx, env)
	if err != nil {
		return err
	}
	logCtx.Info().Interface("result", res).Dur("elapsed", now().Sub(start)).Msg("Stage run finished.")
	return nil
}

func resolveDay(date string, now func() time.Time) (time.Time, error) {
	if date == "" {
		return now(), nil
	}
	day, err := models.ParseDay(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, want YYYY-MM-DD: %w", date, err)
	}
	return day, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
