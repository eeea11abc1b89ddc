// Package pipeline sequences the stages that turn raw product photos into
// marketplace-ready images: mask, clean, enhance, package and publish.
//
// Every stage reads one directory and writes the next. An item whose expected
// output already exists is skipped, so a run can be interrupted and resumed
// at any point.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/photoprep/internal/config"
	"github.com/aliskhannn/photoprep/internal/enhance"
	"github.com/aliskhannn/photoprep/internal/inpaint"
	"github.com/aliskhannn/photoprep/internal/model"
	"github.com/aliskhannn/photoprep/internal/processor"
)

var (
	// ErrPreflight marks a run that must not start.
	ErrPreflight = errors.New("preflight failed")
	// ErrInpaint marks a failed batch watermark removal.
	ErrInpaint = errors.New("watermark removal failed")
)

// fileStorage defines the stage directory operations the pipeline relies on.
type fileStorage interface {
	EnsureDir(subdir string) error
	Path(subdir, filename string) string
	List(subdir string, exts ...string) ([]model.Image, error)
	Exists(subdir, filename string) (bool, error)
	Load(ctx context.Context, subdir, filename string) (io.ReadCloser, error)
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
}

// packager turns one enhanced image into a marketplace-ready file.
type packager interface {
	Package(ctx context.Context, img model.Image, dstDir string) (processor.Result, error)
}

// publisher uploads ready files to remote storage.
type publisher interface {
	Exists(ctx context.Context, filename string) (bool, error)
	Upload(ctx context.Context, localPath, filename string) (string, error)
}

// notifier receives per-item events.
type notifier interface {
	Publish(ctx context.Context, e model.Event) error
}

// Deps are the collaborators of a pipeline. Publisher and Notifier are optional.
type Deps struct {
	Files     fileStorage
	Inpainter inpaint.Runner
	Enhancer  enhance.Enhancer
	Packager  packager
	Publisher publisher
	Notifier  notifier
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithSleep replaces every wait of the pipeline, retry delays included
// (primarily for tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithRunID fixes the run identifier reported in logs and events.
func WithRunID(id uuid.UUID) Option {
	return func(p *Pipeline) {
		p.runID = id
	}
}

// Pipeline runs the stages of one configuration.
type Pipeline struct {
	cfg   config.Config
	deps  Deps
	runID uuid.UUID
	sleep func(ctx context.Context, d time.Duration) error
	retry *enhance.Controller
	now   func() time.Time
}

// New constructs a Pipeline. cfg is copied and never modified.
func New(cfg config.Config, deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg,
		deps:  deps,
		runID: uuid.New(),
		sleep: enhance.Sleep,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	policy := enhance.Policy{
		MaxAttempts:    cfg.Enhance.Attempts,
		RetryDelay:     cfg.Enhance.RetryDelay,
		RateLimitDelay: cfg.Enhance.RateLimitDelay,
	}
	p.retry = enhance.NewController(deps.Enhancer, policy,
		enhance.WithSleep(p.sleep),
		enhance.WithRetryHook(p.logRetry),
	)

	return p
}

// RunID identifies this pipeline's run in logs and events.
func (p *Pipeline) RunID() uuid.UUID {
	return p.runID
}

// Report collects the stage summaries of a full run.
type Report struct {
	RunID     uuid.UUID
	Summaries []model.Summary
}

// Run executes every stage in order. Only preflight, mask and batch
// inpainting failures abort the run; per-item failures are reported in the
// summaries.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: p.runID}

	zlog.Logger.Info().Str("run_id", p.runID.String()).Msg("starting photo processing")

	if err := p.Preflight(); err != nil {
		return report, err
	}
	if err := p.Mask(); err != nil {
		return report, err
	}

	stages := []func(context.Context) (model.Summary, error){
		p.Clean,
		p.Enhance,
		p.Package,
		p.Publish,
	}
	for _, stage := range stages {
		s, err := stage(ctx)
		report.Summaries = append(report.Summaries, s)
		if err != nil {
			return report, err
		}
	}

	zlog.Logger.Info().
		Str("run_id", p.runID.String()).
		Str("ready_dir", p.deps.Files.Path(p.cfg.Paths.Ready, "")).
		Msg("all photos processed")

	return report, nil
}

func (p *Pipeline) emit(ctx context.Context, stage model.Stage, filename, status string, err error) {
	if p.deps.Notifier == nil {
		return
	}
	e := model.Event{
		RunID:     p.runID,
		Stage:     stage,
		Filename:  filename,
		Status:    status,
		CreatedAt: p.now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if pubErr := p.deps.Notifier.Publish(ctx, e); pubErr != nil {
		zlog.Logger.Warn().Err(pubErr).
			Str("stage", string(stage)).
			Str("file", filename).
			Msg("failed to publish event")
	}
}

func (p *Pipeline) logRetry(a enhance.Attempt) {
	zlog.Logger.Warn().Err(a.Err).
		Str("run_id", p.runID.String()).
		Int("attempt", a.Index).
		Int("max_attempts", p.cfg.Enhance.Attempts).
		Str("class", a.Class.String()).
		Dur("wait", a.Wait).
		Msg("remote call failed, waiting")
}
