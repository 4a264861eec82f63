package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/hupe1980/seqcache"
	"github.com/hupe1980/seqcache/counterstore"
	"github.com/hupe1980/seqcache/internal/config"
)

// env is the store and cache built from the --config file for one command.
type env struct {
	cfg   *config.File
	store counterstore.Store
	cache *seqcache.BlockCache
	close func() error
}

func loadConfig(cmd *cobra.Command) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.File
		err error
	)
	if path == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(path); err != nil {
		return nil, exitError(exitConfig, "%s", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := config.ParseLevel(level); err != nil {
			return nil, exitError(exitUsage, "%s", err)
		}
		cfg.Log.Level = level
	}
	return cfg, nil
}

func openEnv(ctx context.Context, cmd *cobra.Command, extra ...seqcache.Option) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	store, closeFn, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, exitError(exitStore, "opening %s backend: %s", cfg.Backend.Type, err)
	}

	cache, err := seqcache.New(store, append(cfg.CacheOptions(), extra...)...)
	if err != nil {
		_ = closeFn()
		return nil, exitError(exitConfig, "%s", err)
	}

	return &env{cfg: cfg, store: store, cache: cache, close: closeFn}, nil
}

// storeExit maps allocator errors to exit codes.
func storeExit(err error) error {
	switch {
	case errors.Is(err, seqcache.ErrUnknownSequence):
		return exitError(exitNotFound, "%s", err)
	case errors.Is(err, seqcache.ErrInvalidName):
		return exitError(exitUsage, "%s", err)
	default:
		return exitError(exitStore, "%s", err)
	}
}
