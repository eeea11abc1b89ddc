package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/photoprep/internal/model"
	"github.com/aliskhannn/photoprep/internal/pipeline"
)

// stageFunc runs one pipeline stage.
type stageFunc func(ctx context.Context, p *pipeline.Pipeline) (model.Summary, error)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stage: mask, clean, enhance, package and publish",
		Long: `Run every stage: mask, clean, enhance, package and publish.

The run stops at once if the API token is missing, the input directory is
empty, the mask cannot be written or watermark removal fails. A photo that
fails to enhance or package is reported and the run moves on.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			p, closeFn, err := build(cmd.Context(), cfg, needAll)
			defer closeFn()
			if err != nil {
				return err
			}

			report, err := p.Run(cmd.Context())
			for _, s := range report.Summaries {
				pipeline.LogSummary(s)
			}
			return err
		},
	}
}

func newMaskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mask",
		Short: "Write the watermark mask",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			p, closeFn, err := build(cmd.Context(), cfg, needs{})
			defer closeFn()
			if err != nil {
				return err
			}
			return p.Mask()
		},
	}
}

func newCleanCommand(ctx *commandContext) *cobra.Command {
	return newStageCommand(ctx, "clean", "Remove the watermark from every input photo", needs{inpaint: true},
		func(ctx context.Context, p *pipeline.Pipeline) (model.Summary, error) {
			if err := p.Mask(); err != nil {
				return model.Summary{Stage: model.StageClean}, err
			}
			return p.Clean(ctx)
		})
}

func newEnhanceCommand(ctx *commandContext) *cobra.Command {
	return newStageCommand(ctx, "enhance", "Upscale every cleaned photo", needs{enhance: true},
		func(ctx context.Context, p *pipeline.Pipeline) (model.Summary, error) {
			return p.Enhance(ctx)
		})
}

func newPackageCommand(ctx *commandContext) *cobra.Command {
	return newStageCommand(ctx, "package", "Convert enhanced photos to marketplace JPEGs", needs{},
		func(ctx context.Context, p *pipeline.Pipeline) (model.Summary, error) {
			return p.Package(ctx)
		})
}

func newPublishCommand(ctx *commandContext) *cobra.Command {
	cmd := newStageCommand(ctx, "publish", "Upload marketplace JPEGs to the bucket", needs{publish: true},
		func(ctx context.Context, p *pipeline.Pipeline) (model.Summary, error) {
			return p.Publish(ctx)
		})

	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return err
		}
		if !cfg.Storage.Enabled {
			return errors.New("publishing is disabled: set storage.enabled")
		}
		return run(cmd, args)
	}
	return cmd
}

func newStageCommand(ctx *commandContext, use, short string, n needs, stage stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			p, closeFn, err := build(cmd.Context(), cfg, n)
			defer closeFn()
			if err != nil {
				return err
			}
			if err := p.EnsureDirs(); err != nil {
				return err
			}

			zlog.Logger.Info().Str("run_id", p.RunID().String()).Str("stage", use).Msg("starting stage")
			s, err := stage(cmd.Context(), p)
			pipeline.LogSummary(s)
			return err
		},
	}
}
