package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/examprep/examprep-cli/internal/gateway"
	"github.com/examprep/examprep-cli/internal/pipeline"
	"github.com/examprep/examprep-cli/internal/store"
)

// engineEnv holds the gateway, checkpoint store and engine shared by the
// analyze, explain and serve commands.
type engineEnv struct {
	Gateway *gateway.Gateway
	Store   store.CheckpointStore // may be nil
	Engine  *pipeline.Engine
}

// Close releases the store.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine builds the engine for the given config mode. A store that cannot
// be opened disables checkpointing instead of failing the command.
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	settings, err := pipeline.SettingsFrom(cfg)
	if err != nil {
		return nil, err
	}

	var st store.CheckpointStore
	if mode != "explain" {
		st, err = store.Open(ctx, cfg.Store)
		if err != nil {
			zap.L().Warn("checkpoint store unavailable, continuing without checkpoints",
				zap.String("driver", cfg.Store.Driver),
				zap.Error(err),
			)
			st = nil
		}
	}

	gw := gateway.NewFromConfig(cfg)
	return &engineEnv{
		Gateway: gw,
		Store:   st,
		Engine:  pipeline.New(gw, st, settings),
	}, nil
}
