package main

import (
	"context"

	"github.com/jingkaihe/enhancer/pkg/bridge"
	"github.com/jingkaihe/enhancer/pkg/db"
	"github.com/jingkaihe/enhancer/pkg/enhance"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/jingkaihe/enhancer/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// app holds the long-lived components a command works with.
type app struct {
	store    *storage.SQLiteStore
	configs  *enhance.ConfigStore
	registry *provider.Registry
}

func databasePath() (string, error) {
	if path := viper.GetString("db_path"); path != "" {
		return path, nil
	}
	return db.DefaultDBPath()
}

func bridgeDir() (string, error) {
	if dir := viper.GetString("bridge.dir"); dir != "" {
		return dir, nil
	}
	return bridge.DefaultDir()
}

func openApp(ctx context.Context) (*app, error) {
	path, err := databasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenSQLiteStore(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open storage")
	}
	return &app{
		store:    store,
		configs:  enhance.NewConfigStore(store),
		registry: provider.NewRegistry(store),
	}, nil
}

func (a *app) invoker() *enhance.Invoker {
	return enhance.NewInvoker(a.configs, a.registry, enhance.WithMaxTokens(viper.GetInt("enhance.max_tokens")))
}

// openBridge starts the host file bridge. Host pushes land in the registry
// cache and are mirrored to storage.
func (a *app) openBridge(ctx context.Context) (*bridge.FileBridge, error) {
	dir, err := bridgeDir()
	if err != nil {
		return nil, err
	}
	b, err := bridge.NewFileBridge(dir)
	if err != nil {
		return nil, err
	}
	if err := seedRegistry(ctx, a.registry, b); err != nil {
		logger.G(ctx).WithError(err).Warn("ignoring unreadable provider list in bridge directory")
	}
	b.Subscribe(func(providers []provider.Provider) {
		a.registry.SetCache(providers)
		if err := a.registry.Mirror(ctx, providers); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to mirror providers to storage")
		}
	})
	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// seedRegistry fills the registry cache with the last list the host left in
// the bridge directory, if any.
func seedRegistry(ctx context.Context, registry *provider.Registry, b *bridge.FileBridge) error {
	providers, ok, err := b.Load(ctx)
	if err != nil {
		return err
	}
	if ok {
		registry.SetCache(providers)
	}
	return nil
}

func loadBridgeCache(ctx context.Context, registry *provider.Registry, dir string) error {
	b, err := bridge.NewFileBridge(dir)
	if err != nil {
		return err
	}
	return seedRegistry(ctx, registry, b)
}

// loadHostProviders seeds the registry from the bridge directory for one-shot
// commands. Failures only cost the host's latest list, so they are warnings.
func (a *app) loadHostProviders(ctx context.Context) {
	dir, err := bridgeDir()
	if err == nil {
		err = loadBridgeCache(ctx, a.registry, dir)
	}
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to load providers from bridge directory")
	}
}

func pushToBridge(dir string, providers []provider.Provider) error {
	b, err := bridge.NewFileBridge(dir)
	if err != nil {
		return err
	}
	return errors.Wrap(b.Push(providers), "failed to push providers to the bridge")
}
