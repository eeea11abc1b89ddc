package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/photoprep/internal/config"
	"github.com/aliskhannn/photoprep/internal/infra/kafka/producer"
	"github.com/aliskhannn/photoprep/internal/inpaint"
	"github.com/aliskhannn/photoprep/internal/pipeline"
	"github.com/aliskhannn/photoprep/internal/processor"
	"github.com/aliskhannn/photoprep/internal/replicate"
	"github.com/aliskhannn/photoprep/internal/storage/bucket"
	"github.com/aliskhannn/photoprep/internal/storage/file"
)

// needs lists the collaborators a command actually uses.
type needs struct {
	inpaint bool
	enhance bool
	publish bool
}

var needAll = needs{inpaint: true, enhance: true, publish: true}

// build wires a pipeline from cfg. The returned close function releases the
// event producer and must always be called.
func build(ctx context.Context, cfg *config.Config, n needs) (*pipeline.Pipeline, func(), error) {
	closers := []func() error{}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
			}
		}
	}

	// Retry strategy for the bucket and Kafka.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	files := file.NewStorage("")
	deps := pipeline.Deps{
		Files: files,
		Packager: processor.New(files, processor.Target{
			Width:   cfg.Market.Width,
			Height:  cfg.Market.Height,
			Quality: cfg.Market.Quality,
		}),
	}

	if n.inpaint {
		runner, err := newInpainter(cfg.Inpaint, files)
		if err != nil {
			return nil, closeAll, err
		}
		deps.Inpainter = runner
	}

	if n.enhance {
		client, err := replicate.New(replicate.Config{
			BaseURL:        cfg.Enhance.BaseURL,
			Token:          cfg.Enhance.APIToken,
			Model:          cfg.Enhance.Model,
			ConnectTimeout: cfg.Enhance.ConnectTimeout,
			RequestTimeout: cfg.Enhance.RequestTimeout,
			PollInterval:   cfg.Enhance.PollInterval,
		})
		if err != nil {
			return nil, closeAll, fmt.Errorf("%w: %w", pipeline.ErrPreflight, err)
		}
		deps.Enhancer = client
	}

	if n.publish && cfg.Storage.Enabled {
		storage, err := bucket.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
			cfg.Storage.BucketName, cfg.Storage.Prefix, cfg.Storage.UseSSL, strategy)
		if err != nil {
			return nil, closeAll, fmt.Errorf("failed to connect to storage: %w", err)
		}
		deps.Publisher = storage
	}

	if cfg.Kafka.Enabled {
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			zlog.Logger.Warn().Err(err).Msg("kafka topic not verified, publishing anyway")
		}
		p := producer.New(&cfg.Kafka, strategy)
		closers = append(closers, p.Close)
		deps.Notifier = p
	}

	return pipeline.New(*cfg, deps), closeAll, nil
}

func newInpainter(cfg config.Inpaint, files *file.Storage) (inpaint.Runner, error) {
	switch cfg.Engine {
	case config.EnginePassthrough:
		return inpaint.NewPassthrough(files), nil
	case config.EngineIOPaint:
		runner, err := inpaint.NewIOPaint(cfg.Binary, cfg.Model, cfg.Device, cfg.Timeout,
			inpaint.WithOutput(func(line string) {
				zlog.Logger.Debug().Str("tool", cfg.Binary).Msg(line)
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrInpaint, err)
		}
		return runner, nil
	default:
		return nil, errors.New("unknown inpaint engine " + cfg.Engine)
	}
}
