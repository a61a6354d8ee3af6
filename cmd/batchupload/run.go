package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/batchupload/internal/config"
	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/logging"
	"github.com/JonMunkholm/batchupload/internal/remote"
	"github.com/JonMunkholm/batchupload/internal/retriever"
	"github.com/JonMunkholm/batchupload/internal/secrets"
	"github.com/JonMunkholm/batchupload/internal/uploader"
)

// platform is an uploader.Platform that can check the login.
type platform interface {
	uploader.Platform
	Ping(ctx context.Context) error
}

// run performs one batch upload from the named source.
func run(ctx context.Context, g globalOptions, source string, ropts retriever.Options) error {
	cfg, err := config.Load(g.configPath,
		config.WithServer(g.url, g.username, g.password),
		config.WithLogLevel(g.logLevel),
		config.WithDryRun(g.dryRun),
	)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	batchID := g.batchID
	if batchID == "" {
		batchID = newBatchID()
	}
	ctx = logging.WithBatch(ctx, batchID)
	log := logging.FromContext(ctx)
	log.Info("configuration loaded", slog.String("config", cfg.String()))

	if cfg.Upload.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Upload.RunTimeout)
		defer cancel()
	}

	if source == retriever.SourceSQL {
		ropts.SQL, err = sqlOptions(cfg.SQL)
		if err != nil {
			return err
		}
	}
	r, err := retriever.New(source, ropts)
	if err != nil {
		return err
	}
	defer r.Close()

	layerTable, err := r.Layers(ctx)
	if err != nil {
		return err
	}
	lossTable, err := r.Losses(ctx)
	if err != nil {
		return err
	}

	layerSchema, err := cfg.LayerSchema()
	if err != nil {
		return err
	}
	layers, err := core.ExtractLayers(layerTable, layerSchema, core.LayerOptions{
		DefaultCurrency: cfg.Defaults.Currency,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	lossSchema, err := cfg.LossSetSchema()
	if err != nil {
		return err
	}
	losses, err := core.NewLossExtractor(lossTable, r.LossType(), lossSchema)
	if err != nil {
		return err
	}

	startDate, err := core.ToDate("defaults.start_date", cfg.Defaults.StartDate)
	if err != nil {
		return err
	}

	opts := uploader.Options{
		BatchID:           batchID,
		DefaultCurrency:   cfg.Defaults.Currency,
		DefaultStartDate:  startDate,
		TrialCount:        cfg.Defaults.TrialCount,
		LossPerspective:   cfg.Defaults.LossPerspective,
		AnalysisProfileID: cfg.Defaults.AnalysisProfileUUID,
		PoolSize:          cfg.Upload.PoolSize,
		PollInterval:      cfg.Upload.PollInterval,
		PollTimeout:       cfg.Upload.PollTimeout,
	}
	if err := opts.Preflight(layers, losses.LossType()); err != nil {
		return err
	}

	// Everything above is local; the platform is contacted from here on.
	p, err := newPlatform(ctx, cfg)
	if err != nil {
		return err
	}
	if err := p.Ping(ctx); err != nil {
		return err
	}
	// An unknown profile fails here, before the run starts. The client caches
	// it, so Run reads it back without another request.
	if _, err := p.AnalysisProfile(ctx, opts.AnalysisProfileID); err != nil {
		return fmt.Errorf("analysis profile: %w", err)
	}

	start := time.Now()
	result, err := uploader.New(p, opts).Run(ctx, layers, losses)
	if err != nil {
		return err
	}

	if err := uploader.WriteReportFile(cfg.Upload.ReportPath, result.Uploaded); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	log.Info("batch upload finished",
		slog.Int("uploaded", len(result.Uploaded)),
		slog.Int("failed", len(result.Failed)),
		slog.String("report", cfg.Upload.ReportPath),
		slog.Duration("elapsed", time.Since(start)))

	return result.Err()
}

// newPlatform returns the HTTP client, or an in-process platform for dry runs.
func newPlatform(ctx context.Context, cfg *config.Config) (platform, error) {
	if cfg.Upload.DryRun {
		logging.FromContext(ctx).Warn("dry run: nothing is sent to the server")
		return remote.NewMemory(), nil
	}

	password := cfg.Server.Password
	if password == "" && cfg.Server.PasswordSecretID != "" {
		resolver, err := secrets.NewResolver(ctx)
		if err != nil {
			return nil, err
		}
		password, err = resolver.Password(ctx, cfg.Server.PasswordSecretID)
		if err != nil {
			return nil, err
		}
	}

	return remote.NewClient(cfg.Server.BaseURL,
		remote.WithCredentials(cfg.Server.Username, password),
		remote.WithRequestTimeout(cfg.Upload.RequestTimeout),
		remote.WithRateLimit(float64(cfg.Upload.RequestsPerSecond), cfg.Upload.Burst),
		remote.WithMaxRetries(cfg.Upload.MaxRetries),
		remote.WithChunkSize(cfg.Upload.ChunkSize),
	)
}

func sqlOptions(c config.SQLConfig) (retriever.SQLOptions, error) {
	if c.LossType == "" {
		return retriever.SQLOptions{}, &core.ConfigError{Section: "sql", Key: "loss_type", Message: "is required for the sql source"}
	}
	lossType, err := core.ParseLossType(c.LossType)
	if err != nil {
		return retriever.SQLOptions{}, err
	}
	return retriever.SQLOptions{
		Driver:      c.Driver,
		DSN:         c.DSN,
		Server:      c.Server,
		Database:    c.Database,
		Username:    c.Username,
		Password:    c.Password,
		LayersQuery: c.LayersQuery,
		LossesQuery: c.LossesQuery,
		LossType:    lossType,
	}, nil
}
