package pipeline

import (
	"fmt"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/photoprep/internal/mask"
)

// Geometry returns the watermark geometry of the configuration.
func (p *Pipeline) Geometry() mask.Geometry {
	m := p.cfg.Mask
	return mask.Geometry{
		Width:        m.Width,
		Height:       m.Height,
		MarkWidth:    m.MarkWidth,
		MarkHeight:   m.MarkHeight,
		MarginRight:  m.MarginRight,
		MarginBottom: m.MarginBottom,
	}
}

// Preflight checks everything a run needs before any stage touches a file:
// the API credential, the watermark geometry and a non-empty input directory.
// It also creates the stage directories.
func (p *Pipeline) Preflight() error {
	if strings.TrimSpace(p.cfg.Enhance.APIToken) == "" {
		return fmt.Errorf("%w: REPLICATE_API_TOKEN is not set (add it to .env)", ErrPreflight)
	}

	if err := p.Geometry().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	if err := p.EnsureDirs(); err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	inputs, err := p.deps.Files.List(p.cfg.Paths.Input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: input directory %s is empty", ErrPreflight, p.cfg.Paths.Input)
	}

	zlog.Logger.Info().
		Str("run_id", p.runID.String()).
		Int("files", len(inputs)).
		Str("input_dir", p.cfg.Paths.Input).
		Msg("found files to process")

	return nil
}

// EnsureDirs creates the stage directories that do not exist yet.
func (p *Pipeline) EnsureDirs() error {
	for _, dir := range []string{p.cfg.Paths.Input, p.cfg.Paths.Clean, p.cfg.Paths.Enhanced, p.cfg.Paths.Ready} {
		if err := p.deps.Files.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}
