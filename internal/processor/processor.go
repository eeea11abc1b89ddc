package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/photoprep/internal/model"
)

// fileStorage defines the interface for stage directory storage.
// It allows saving and loading files by directory and filename.
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, subdir, filename string) (io.ReadCloser, error)
}

// Target is the marketplace output format.
type Target struct {
	Width   int
	Height  int
	Quality int // JPEG quality, 1..100
}

// Result describes a packaged image.
type Result struct {
	Output model.Image
	Bytes  int64
}

// Processor is responsible for turning enhanced images into
// marketplace-ready JPEGs of a fixed size.
type Processor struct {
	fileStorage fileStorage
	target      Target
}

// New creates a new Processor with the given file storage backend and output format.
func New(fs fileStorage, target Target) *Processor {
	return &Processor{fileStorage: fs, target: target}
}

// Target returns the output format the processor was built with.
func (p *Processor) Target() Target {
	return p.target
}

// OutputName returns the filename Package writes for img.
func OutputName(img model.Image) string {
	return img.Stem() + ".jpg"
}

// Package loads img, flattens transparency onto white, fills and center-crops
// it to the target size and saves it as JPEG into dstDir.
func (p *Processor) Package(ctx context.Context, img model.Image, dstDir string) (Result, error) {
	// Load the enhanced image from storage.
	srcReader, err := p.fileStorage.Load(ctx, img.Dir, img.Filename)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load image: %w", err)
	}
	defer srcReader.Close()

	// Decode into an image object.
	decoded, err := imaging.Decode(srcReader)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode image: %w", err)
	}

	framed := FillCrop(Flatten(decoded), p.target.Width, p.target.Height)

	// Encode into buffer for storage.
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, framed, imaging.JPEG, imaging.JPEGQuality(p.target.Quality)); err != nil {
		return Result{}, fmt.Errorf("failed to encode image: %w", err)
	}
	size := int64(buf.Len())

	name := OutputName(img)
	if _, err := p.fileStorage.Save(ctx, dstDir, name, buf); err != nil {
		return Result{}, fmt.Errorf("failed to save image: %w", err)
	}

	return Result{
		Output: model.Image{Dir: dstDir, Filename: name},
		Bytes:  size,
	}, nil
}
