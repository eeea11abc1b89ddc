// Package inpaint removes the watermark from a whole directory of photos by
// delegating to an external inpainting tool.
package inpaint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aliskhannn/photoprep/internal/model"
)

// ErrToolNotFound reports that the inpainting binary is not installed.
var ErrToolNotFound = errors.New("inpainting tool not found")

// Batch is one all-or-nothing inpainting run.
type Batch struct {
	InputDir  string
	OutputDir string
	MaskPath  string
}

// Runner processes a whole directory at once.
type Runner interface {
	RunBatch(ctx context.Context, b Batch) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Option configures the IOPaint runner.
type Option func(*IOPaint)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(p *IOPaint) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithOutput receives every line the tool prints.
func WithOutput(fn func(string)) Option {
	return func(p *IOPaint) {
		p.onLine = fn
	}
}

// IOPaint runs `iopaint run` in batch mode.
type IOPaint struct {
	binary  string
	model   string
	device  string
	timeout time.Duration
	exec    Executor
	onLine  func(string)
}

// NewIOPaint constructs an IOPaint runner.
func NewIOPaint(binary, model, device string, timeout time.Duration, opts ...Option) (*IOPaint, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("iopaint binary required")
	}
	p := &IOPaint{
		binary:  binary,
		model:   model,
		device:  device,
		timeout: timeout,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Args returns the command line for b.
func (p *IOPaint) Args(b Batch) []string {
	return []string{
		"run",
		"--model=" + p.model,
		"--device=" + p.device,
		"--image=" + b.InputDir,
		"--mask=" + b.MaskPath,
		"--output=" + b.OutputDir,
	}
}

// RunBatch blocks until the tool has processed the whole input directory.
func (p *IOPaint) RunBatch(ctx context.Context, b Batch) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tail := newTail(20)
	onLine := func(line string) {
		tail.add(line)
		if p.onLine != nil {
			p.onLine(line)
		}
	}

	if err := p.exec.Run(ctx, p.binary, p.Args(b), onLine); err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return fmt.Errorf("%w: %s", ErrToolNotFound, p.binary)
		}
		if out := tail.String(); out != "" {
			return fmt.Errorf("%s run: %w\noutput: %s", p.binary, err, out)
		}
		return fmt.Errorf("%s run: %w", p.binary, err)
	}
	return nil
}

// store is the subset of stage storage the passthrough runner needs.
type store interface {
	List(subdir string, exts ...string) ([]model.Image, error)
	Load(ctx context.Context, subdir, filename string) (io.ReadCloser, error)
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
}

// Passthrough copies every image unmodified. It stands in for the real tool
// when photos carry no watermark and in tests.
type Passthrough struct {
	files store
}

// NewPassthrough constructs a Passthrough runner over files.
func NewPassthrough(files store) *Passthrough {
	return &Passthrough{files: files}
}

// RunBatch copies every image of the input directory into the output directory.
func (p *Passthrough) RunBatch(ctx context.Context, b Batch) error {
	images, err := p.files.List(b.InputDir)
	if err != nil {
		return err
	}
	for _, img := range images {
		if err := p.copy(ctx, img, b.OutputDir); err != nil {
			return fmt.Errorf("copy %s: %w", img.Filename, err)
		}
	}
	return nil
}

func (p *Passthrough) copy(ctx context.Context, img model.Image, dst string) error {
	r, err := p.files.Load(ctx, img.Dir, img.Filename)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = p.files.Save(ctx, dst, img.Filename, r)
	return err
}
