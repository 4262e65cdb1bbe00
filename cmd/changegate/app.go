package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
	"github.com/Mindburn-Labs/changegate/pkg/auth"
	"github.com/Mindburn-Labs/changegate/pkg/changes"
	"github.com/Mindburn-Labs/changegate/pkg/config"
	"github.com/Mindburn-Labs/changegate/pkg/lifecycle"
	"github.com/Mindburn-Labs/changegate/pkg/lock"
	"github.com/Mindburn-Labs/changegate/pkg/observability"
	"github.com/Mindburn-Labs/changegate/pkg/risk"
	"github.com/Mindburn-Labs/changegate/pkg/store"
)

// app holds the wired service and everything that must be closed with it.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	svc     *changes.Service
	roles   auth.RoleProvider
	obs     *observability.Provider
	closers []func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return nil, err
	}
	return config.Load(files...)
}

// newApp wires storage, locking, risk catalog, roles, telemetry and the
// evidence exporter from cfg. Lite mode uses SQLite when no DATABASE_URL is
// set.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (a *app, err error) {
	logger := cfg.NewLogger(logOut)
	slog.SetDefault(logger)
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var (
		repo *store.SQLChangeRequestStore
		db   *sql.DB
	)
	if cfg.Lite() {
		logger.InfoContext(ctx, "DATABASE_URL not set, using lite mode", "sqlite", cfg.SQLitePath)
		repo, db, err = store.OpenSQLite(ctx, cfg.SQLitePath)
	} else {
		repo, db, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	catalog := risk.DefaultCatalog()
	if cfg.Risk.CatalogPath != "" {
		if catalog, err = risk.LoadCatalogFile(cfg.Risk.CatalogPath); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "risk catalog loaded", "path", cfg.Risk.CatalogPath, "questions", len(catalog.Questions()))
	}

	var roles auth.RoleProvider = auth.NewStaticRoleDirectory(nil)
	if cfg.RolesPath != "" {
		if roles, err = auth.LoadRoleDirectory(cfg.RolesPath); err != nil {
			return nil, err
		}
	}
	a.roles = roles

	machine := lifecycle.NewMachine().WithChangeManagerRole(cfg.Approval.ChangeManagerRole)
	if cfg.Approval.Policy != "" {
		policy, err := lifecycle.NewApprovalPolicy(cfg.Approval.Policy)
		if err != nil {
			return nil, err
		}
		machine = machine.WithApprovalPolicy(policy)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "changegate",
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
		MetricExporter: cfg.Telemetry.MetricExporter,
	})
	if err != nil {
		return nil, err
	}
	a.obs = obs
	a.closers = append(a.closers, func() error { return obs.Shutdown(context.Background()) })

	svc := changes.NewService(repo, catalog, machine, roles).
		WithLogger(logger).
		WithObservability(obs).
		WithSink(audit.NewWriterSink(logOut)).
		WithDefaultApproverRoles(cfg.Approval.Roles()).
		WithAdminRoles(cfg.Approval.AdminRoles)

	if cfg.RedisURL != "" {
		locker, err := lock.NewRedisLockerFromURL(cfg.RedisURL, 10*time.Second)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, locker.Close)
		if err := locker.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		svc = svc.WithLocker(locker)
	}

	if cfg.Export.Bucket != "" {
		objects, closeFn, err := newObjectStore(ctx, cfg.Export)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			a.closers = append(a.closers, closeFn)
		}
		svc = svc.WithExporter(audit.NewExporter(objects, cfg.Export.Prefix))
	}

	a.svc = svc
	return a, nil
}

// newObjectStore returns the bucket client for the configured provider and
// an optional close function.
func newObjectStore(ctx context.Context, opts config.ExportOptions) (audit.ObjectStore, func() error, error) {
	switch opts.Provider {
	case "gcs":
		return newGCSObjectStore(ctx, opts.Bucket)
	default:
		s, err := audit.NewS3Store(ctx, audit.S3StoreConfig{
			Bucket:   opts.Bucket,
			Region:   opts.Region,
			Endpoint: opts.Endpoint,
		})
		return s, nil, err
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
