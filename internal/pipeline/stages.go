package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/photoprep/internal/enhance"
	"github.com/aliskhannn/photoprep/internal/inpaint"
	"github.com/aliskhannn/photoprep/internal/model"
	"github.com/aliskhannn/photoprep/internal/processor"
)

// MaskPath returns the filesystem path of the mask artifact.
func (p *Pipeline) MaskPath() string {
	return p.deps.Files.Path(p.cfg.Paths.Mask, "")
}

// Mask writes the watermark mask.
func (p *Pipeline) Mask() error {
	path := p.MaskPath()
	if err := p.Geometry().Write(path); err != nil {
		return fmt.Errorf("failed to create mask: %w", err)
	}

	zlog.Logger.Info().Str("run_id", p.runID.String()).Str("path", path).Msg("mask created")
	return nil
}

// Clean removes the watermark from every input photo in one batch call. The
// call is skipped when every input already has a cleaned counterpart.
func (p *Pipeline) Clean(ctx context.Context) (model.Summary, error) {
	summary := model.Summary{Stage: model.StageClean}

	inputs, err := p.deps.Files.List(p.cfg.Paths.Input)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrInpaint, err)
	}
	summary.Total = len(inputs)

	pending := 0
	for _, img := range inputs {
		ok, err := p.deps.Files.Exists(p.cfg.Paths.Clean, img.Filename)
		if err != nil {
			return summary, fmt.Errorf("%w: %w", ErrInpaint, err)
		}
		if !ok {
			pending++
		}
	}

	if pending == 0 {
		zlog.Logger.Info().
			Str("run_id", p.runID.String()).
			Int("files", len(inputs)).
			Msg("all photos already cleaned, skipping watermark removal")
		summary.Skipped = len(inputs)
		for _, img := range inputs {
			p.emit(ctx, model.StageClean, img.Filename, model.StatusSkipped, nil)
		}
		return summary, nil
	}

	zlog.Logger.Info().
		Str("run_id", p.runID.String()).
		Int("files", len(inputs)).
		Int("pending", pending).
		Msg("removing watermarks")

	batch := inpaint.Batch{
		InputDir:  p.deps.Files.Path(p.cfg.Paths.Input, ""),
		OutputDir: p.deps.Files.Path(p.cfg.Paths.Clean, ""),
		MaskPath:  p.MaskPath(),
	}
	if err := p.deps.Inpainter.RunBatch(ctx, batch); err != nil {
		for _, img := range inputs {
			p.emit(ctx, model.StageClean, img.Filename, model.StatusFailed, err)
		}
		return summary, fmt.Errorf("%w: %w", ErrInpaint, err)
	}

	summary.Done = len(inputs)
	for _, img := range inputs {
		p.emit(ctx, model.StageClean, img.Filename, model.StatusDone, nil)
	}

	zlog.Logger.Info().Str("run_id", p.runID.String()).Msg("watermarks removed")
	return summary, nil
}

// EnhancedName returns the filename the enhance stage writes for img.
func (p *Pipeline) EnhancedName(img model.Image) string {
	return p.cfg.Enhance.Prefix + img.Filename
}

// Enhance upscales every cleaned photo that has no enhanced counterpart yet.
// Failed items are reported and the stage moves on; only cancellation of ctx
// stops it early.
func (p *Pipeline) Enhance(ctx context.Context) (model.Summary, error) {
	summary := model.Summary{Stage: model.StageEnhance}

	images, err := p.deps.Files.List(p.cfg.Paths.Clean, p.cfg.Enhance.Extensions...)
	if err != nil {
		return summary, err
	}
	summary.Total = len(images)

	zlog.Logger.Info().
		Str("run_id", p.runID.String()).
		Int("files", len(images)).
		Str("model", p.cfg.Enhance.Model).
		Msg("enhancing photos")

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		name := p.EnhancedName(img)
		log := zlog.Logger.With().
			Str("run_id", p.runID.String()).
			Str("stage", string(model.StageEnhance)).
			Str("file", img.Filename).
			Logger()

		exists, err := p.deps.Files.Exists(p.cfg.Paths.Enhanced, name)
		if err != nil {
			log.Error().Err(err).Msgf("[%d/%d] failed to check output", i+1, len(images))
			summary.Failures = append(summary.Failures, model.Failure{Filename: img.Filename, Err: err})
			p.emit(ctx, model.StageEnhance, img.Filename, model.StatusFailed, err)
			continue
		}
		if exists {
			log.Info().Msgf("[%d/%d] already enhanced, skipping", i+1, len(images))
			summary.Skipped++
			p.emit(ctx, model.StageEnhance, img.Filename, model.StatusSkipped, nil)
			continue
		}

		log.Info().Msgf("[%d/%d] enhancing", i+1, len(images))
		report, err := p.enhanceOne(ctx, img, name)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			log.Error().Err(err).Int("calls", report.Calls).Msgf("[%d/%d] failed to enhance", i+1, len(images))
			summary.Failures = append(summary.Failures, model.Failure{Filename: img.Filename, Err: err})
			p.emit(ctx, model.StageEnhance, img.Filename, model.StatusFailed, err)
		} else {
			log.Info().Str("output", name).Int("calls", report.Calls).Msgf("[%d/%d] enhanced", i+1, len(images))
			summary.Done++
			p.emit(ctx, model.StageEnhance, img.Filename, model.StatusDone, nil)
		}

		// Pace remote calls between attempted items.
		if i < len(images)-1 {
			if err := p.sleep(ctx, p.cfg.Enhance.Pace); err != nil {
				return summary, err
			}
		}
	}

	return summary, nil
}

func (p *Pipeline) enhanceOne(ctx context.Context, img model.Image, name string) (enhance.Report, error) {
	r, err := p.deps.Files.Load(ctx, img.Dir, img.Filename)
	if err != nil {
		return enhance.Report{}, fmt.Errorf("failed to load image: %w", err)
	}
	payload, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return enhance.Report{}, fmt.Errorf("failed to read image: %w", err)
	}

	return p.retry.Do(ctx, payload, func(out io.Reader) error {
		_, err := p.deps.Files.Save(ctx, p.cfg.Paths.Enhanced, name, out)
		return err
	})
}

// Package converts every enhanced photo into a marketplace-ready JPEG.
// Existing outputs are kept unless overwriting is configured.
func (p *Pipeline) Package(ctx context.Context) (model.Summary, error) {
	summary := model.Summary{Stage: model.StagePackage}

	images, err := p.deps.Files.List(p.cfg.Paths.Enhanced)
	if err != nil {
		return summary, err
	}
	summary.Total = len(images)

	zlog.Logger.Info().
		Str("run_id", p.runID.String()).
		Int("files", len(images)).
		Int("width", p.cfg.Market.Width).
		Int("height", p.cfg.Market.Height).
		Msg("packaging photos")

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		log := zlog.Logger.With().
			Str("run_id", p.runID.String()).
			Str("stage", string(model.StagePackage)).
			Str("file", img.Filename).
			Logger()

		name := processor.OutputName(img)
		if !p.cfg.Market.Overwrite {
			exists, err := p.deps.Files.Exists(p.cfg.Paths.Ready, name)
			if err == nil && exists {
				log.Info().Msgf("[%d/%d] already packaged, skipping", i+1, len(images))
				summary.Skipped++
				p.emit(ctx, model.StagePackage, img.Filename, model.StatusSkipped, nil)
				continue
			}
		}

		res, err := p.deps.Packager.Package(ctx, img, p.cfg.Paths.Ready)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			log.Error().Err(err).Msgf("[%d/%d] failed to package", i+1, len(images))
			summary.Failures = append(summary.Failures, model.Failure{Filename: img.Filename, Err: err})
			p.emit(ctx, model.StagePackage, img.Filename, model.StatusFailed, err)
			continue
		}

		log.Info().
			Str("output", res.Output.Filename).
			Str("size", humanize.Bytes(uint64(res.Bytes))).
			Msgf("[%d/%d] packaged", i+1, len(images))
		summary.Done++
		p.emit(ctx, model.StagePackage, img.Filename, model.StatusDone, nil)
	}

	return summary, nil
}

// Publish uploads every ready photo missing from the bucket. Without a
// configured publisher the stage does nothing.
func (p *Pipeline) Publish(ctx context.Context) (model.Summary, error) {
	summary := model.Summary{Stage: model.StagePublish}
	if p.deps.Publisher == nil {
		return summary, nil
	}

	images, err := p.deps.Files.List(p.cfg.Paths.Ready, ".jpg")
	if err != nil {
		return summary, err
	}
	summary.Total = len(images)

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		log := zlog.Logger.With().
			Str("run_id", p.runID.String()).
			Str("stage", string(model.StagePublish)).
			Str("file", img.Filename).
			Logger()

		exists, err := p.deps.Publisher.Exists(ctx, img.Filename)
		if err == nil && exists {
			log.Info().Msgf("[%d/%d] already uploaded, skipping", i+1, len(images))
			summary.Skipped++
			p.emit(ctx, model.StagePublish, img.Filename, model.StatusSkipped, nil)
			continue
		}

		if err == nil {
			_, err = p.deps.Publisher.Upload(ctx, p.deps.Files.Path(img.Dir, img.Filename), img.Filename)
		}
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			log.Error().Err(err).Msgf("[%d/%d] failed to upload", i+1, len(images))
			summary.Failures = append(summary.Failures, model.Failure{Filename: img.Filename, Err: err})
			p.emit(ctx, model.StagePublish, img.Filename, model.StatusFailed, err)
			continue
		}

		log.Info().Msgf("[%d/%d] uploaded", i+1, len(images))
		summary.Done++
		p.emit(ctx, model.StagePublish, img.Filename, model.StatusDone, nil)
	}

	return summary, nil
}

// LogSummary writes a one-line summary of a stage.
func LogSummary(s model.Summary) {
	ev := zlog.Logger.Info()
	if s.Failed() > 0 {
		ev = zlog.Logger.Warn()
	}
	ev.Str("stage", string(s.Stage)).
		Int("total", s.Total).
		Int("done", s.Done).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed()).
		Msg("stage finished")
	for _, f := range s.Failures {
		zlog.Logger.Warn().Str("stage", string(s.Stage)).Str("file", f.Filename).Err(f.Err).Msg("item failed")
	}
}
