package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/vx-labs/tiered/catalog"
	"github.com/vx-labs/tiered/commitlog"
	"github.com/vx-labs/tiered/offload"
	"github.com/vx-labs/tiered/offload/offloaders"
	"github.com/vx-labs/tiered/stats"
	"github.com/vx-labs/tiered/tiering"
)

type app struct {
	store     *commitlog.Store
	catalog   *catalog.Catalog
	offloader offload.Offloader
	manager   *tiering.Manager
}

func openStore(config *viper.Viper) (*commitlog.Store, error) {
	return commitlog.Open(filepath.Join(config.GetString("data-dir"), "ledgers"))
}

func loadPolicies(config *viper.Viper) (offload.Policies, error) {
	policies := offload.DefaultPolicies()
	if err := config.Unmarshal(&policies); err != nil {
		return policies, errors.Wrap(err, "invalid offload policies")
	}
	if !offloaders.Supported(policies.Driver) {
		return policies, errors.Wrap(offload.ErrUnsupportedDriver, policies.Driver)
	}
	if policies.FileSystemURI == "" && policies.FileSystemProfilePath == "" {
		dir, err := filepath.Abs(filepath.Join(config.GetString("data-dir"), "offload"))
		if err != nil {
			return policies, err
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return policies, err
		}
		policies.FileSystemURI = "file://" + filepath.ToSlash(dir)
	}
	return policies, nil
}

func openApp(ctx context.Context, config *viper.Viper) (*app, error) {
	store, err := openStore(config)
	if err != nil {
		return nil, err
	}
	policies, err := loadPolicies(config)
	if err != nil {
		return nil, err
	}
	var st stats.OffloaderStats = stats.Noop
	if config.GetInt("metrics-port") > 0 {
		st = stats.NewPrometheus(nil)
	}
	offloader, err := offloaders.Create(ctx, policies, nil, st)
	if err != nil {
		return nil, err
	}
	c, err := catalog.Open(filepath.Join(config.GetString("data-dir"), "catalog"), offload.L(ctx))
	if err != nil {
		offloader.Close()
		return nil, err
	}
	return &app{
		store:     store,
		catalog:   c,
		offloader: offloader,
		manager:   tiering.NewManager(store, offloader, c),
	}, nil
}

func (a *app) Close() error {
	err := a.offloader.Close()
	if catalogErr := a.catalog.Close(); err == nil {
		err = catalogErr
	}
	return err
}
