// Package lifecycle installs and drops the service's durable tables as a group.
package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// DropAll uninstalls every table that exists. A failure on one table is logged
// and collected; the remaining tables are still processed.
func DropAll(ctx context.Context, logger *zap.Logger, tables ...warmup.Table) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var errs []error
	for _, t := range tables {
		if t == nil {
			continue
		}
		exists, err := t.Exists(ctx)
		if err != nil {
			errs = append(errs, fail(logger, t, "exists", err))
			continue
		}
		if !exists {
			logger.Debug("table absent, skipping drop", zap.String("table", t.Name()))
			continue
		}
		if err := t.Uninstall(ctx); err != nil {
			errs = append(errs, fail(logger, t, "uninstall", err))
			continue
		}
		logger.Info("table dropped", zap.String("table", t.Name()))
	}
	return errors.Join(errs...)
}

// InstallAll installs every table that does not exist yet, with the same
// per-table isolation as DropAll.
func InstallAll(ctx context.Context, logger *zap.Logger, tables ...warmup.Table) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var errs []error
	for _, t := range tables {
		if t == nil {
			continue
		}
		exists, err := t.Exists(ctx)
		if err != nil {
			errs = append(errs, fail(logger, t, "exists", err))
			continue
		}
		if exists {
			continue
		}
		if err := t.Install(ctx); err != nil {
			errs = append(errs, fail(logger, t, "install", err))
			continue
		}
		logger.Info("table installed", zap.String("table", t.Name()))
	}
	return errors.Join(errs...)
}

func fail(logger *zap.Logger, t warmup.Table, op string, err error) error {
	failure := &warmup.StoreLifecycleFailure{Table: t.Name(), Op: op, Err: err}
	logger.Error("table lifecycle failed",
		zap.String("table", t.Name()),
		zap.String("op", op),
		zap.Error(err),
	)
	return failure
}
