/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package capsule

import (
	"context"
	"os"

	"github.com/mirkobrombin/capsule/pkg/config"
	"github.com/mirkobrombin/capsule/pkg/types"
)

// Capsule is the entry point of the session machinery, carrying the
// effective configuration, the session store and the context commands
// run under.
type Capsule struct {
	Config  *config.Config
	Options types.CapsuleOptions
	Store   *Store
	Ctx     context.Context
}

// NewCapsule loads the configuration, opens the session store and
// returns a ready Capsule.
func NewCapsule(ctx context.Context) (*Capsule, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newCapsuleWith(ctx, cfg)
}

func newCapsuleWith(ctx context.Context, cfg *config.Config) (*Capsule, error) {
	opts := types.CapsuleOptions{
		ContainerPrefix: cfg.Incus.ContainerPrefix,
		SessionsPath:    cfg.Paths.Sessions,
		StorePath:       cfg.Paths.Store,
		CachePath:       cfg.Paths.Cache,
		Image:           cfg.Incus.Image,
	}
	if err := os.MkdirAll(opts.SessionsPath, 0o755); err != nil {
		return nil, err
	}

	store, err := OpenStore(opts.StorePath)
	if err != nil {
		return nil, err
	}
	return &Capsule{
		Config:  cfg,
		Options: opts,
		Store:   store,
		Ctx:     ctx,
	}, nil
}
