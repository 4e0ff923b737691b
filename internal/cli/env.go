package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/config"
	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/engine"
	"github.com/caseflow/fieldsave/internal/securestore"
	"github.com/caseflow/fieldsave/internal/store"
)

// env is the storage stack a command works against: config, SQLite store,
// encrypted store and engine.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	secure *securestore.Store
	engine *engine.Engine
}

// openEnv loads the config, configures logging and opens the engine.
// The caller must Close the env.
func openEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	level, _ := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}

	logger.Debug("opening database", "path", cfg.DatabasePath())
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	key, err := securestore.LoadOrCreateKey(cfg.KeyFilePath())
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load device key", err)
	}
	secure, err := securestore.New(st, key,
		securestore.WithNamespace(cfg.Namespace),
		securestore.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open encrypted store", err)
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithDebounce(cfg.Autosave.Debounce.Std()),
		engine.WithCompletionGrace(cfg.Autosave.CompletionGrace.Std()),
		engine.WithRetention(cfg.Autosave.Retention.Std()),
		engine.WithCleanupInterval(cfg.Autosave.CleanupInterval.Std()),
		engine.WithMetaStore(st),
	}
	if opts.Clock != nil {
		engOpts = append(engOpts, engine.WithClock(opts.Clock))
	}

	logger.Debug("engine ready", "data_dir", cfg.DataDir, "namespace", cfg.Namespace)
	return &env{
		cfg:    cfg,
		logger: logger,
		store:  st,
		secure: secure,
		engine: engine.New(secure, engOpts...),
	}, nil
}

// Close flushes pending writes and closes the database.
func (e *env) Close(ctx context.Context) error {
	var errs []error
	if err := e.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if len(errs) > 0 {
		e.logger.Error("error closing", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// withEnv opens the env, runs fn and closes the env. A close failure is
// reported only when fn succeeded.
func withEnv(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, e *env) error) (err error) {
	e, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(context.Background()); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "failed to close store", cerr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, e)
}

// keyArgs builds a draft key from <case> <form> arguments.
func keyArgs(args []string) (draft.Key, error) {
	key := draft.NewKey(args[0], args[1])
	if err := key.Validate(); err != nil {
		return key, WrapExitError(ExitCommandError, "invalid draft key", err)
	}
	return key, nil
}
