// Package app assembles the engine and its backends from a workspace config.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shipline/internal/blob"
	"shipline/internal/config"
	"shipline/internal/engine"
	"shipline/internal/logging"
	"shipline/internal/mail"
	"shipline/internal/metrics"
	"shipline/internal/store"
)

// Services is a wired engine plus the handles the caller must release.
type Services struct {
	Config  *config.Config
	Engine  engine.Engine
	Slots   store.Slots
	Blobs   blob.Store
	Metrics *metrics.Recorder
	Logger  *zap.Logger
}

// Build opens the slot and blob backends named by cfg. A nil cfg means the defaults;
// a nil logger is replaced by one built from cfg.Log.
func Build(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Console)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	slots, err := store.Open(ctx, cfg.StoreConfig(workspace))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.BlobConfig(workspace))
	if err != nil {
		_ = slots.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	rec := metrics.New()
	eng := engine.New(engine.Options{
		Slots:   slots,
		Blobs:   blobs,
		Mail:    mail.NewLogSender(logger.Named("mail"), cfg.Mail.Delay),
		Logger:  logger,
		Metrics: rec,
	})
	logger.Debug("services ready",
		zap.String("store", string(slots.Driver())),
		zap.String("blob", string(blobs.Driver())))
	return &Services{
		Config:  cfg,
		Engine:  eng,
		Slots:   slots,
		Blobs:   blobs,
		Metrics: rec,
		Logger:  logger,
	}, nil
}

// Close releases the slot backend and flushes the logger.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	_ = s.Logger.Sync()
	return s.Slots.Close()
}
