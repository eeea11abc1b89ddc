package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/photoprep/internal/config"
	"github.com/aliskhannn/photoprep/internal/enhance"
	"github.com/aliskhannn/photoprep/internal/inpaint"
	"github.com/aliskhannn/photoprep/internal/model"
	"github.com/aliskhannn/photoprep/internal/processor"
	"github.com/aliskhannn/photoprep/internal/storage/file"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeEnhancer struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]error // by call number, 1-based
}

func (f *fakeEnhancer) Enhance(_ context.Context, img []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.calls) + 1
	f.calls = append(f.calls, len(img))
	if err := f.fail[n]; err != nil {
		return nil, err
	}
	return img, nil
}

func (f *fakeEnhancer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	events []model.Event
}

func (r *recordingNotifier) Publish(_ context.Context, e model.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	root     string
	cfg      config.Config
	files    *file.Storage
	enhancer *fakeEnhancer
	notifier *recordingNotifier
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	cfg := config.Config{
		Paths: config.Paths{
			Input:    "input",
			Clean:    "output",
			Enhanced: "final_upscaled",
			Ready:    "ready_for_wb",
			Mask:     "mask_auto.png",
		},
		Mask: config.Mask{
			Width: 64, Height: 96, MarkWidth: 10, MarkHeight: 10,
		},
		Enhance: config.Enhance{
			Model:          "recraft-ai/recraft-crisp-upscale",
			APIToken:       "r8_test",
			Prefix:         "upscaled_",
			Extensions:     []string{".jpg", ".jpeg", ".png", ".webp"},
			Attempts:       3,
			RetryDelay:     10 * time.Second,
			RateLimitDelay: 30 * time.Second,
			Pace:           500 * time.Millisecond,
		},
		Market: config.Market{Width: 900, Height: 1200, Quality: 95},
	}

	files := file.NewStorage(root)
	for _, dir := range []string{"input", "output", "final_upscaled", "ready_for_wb"} {
		if err := files.EnsureDir(dir); err != nil {
			t.Fatalf("EnsureDir: %v", err)
		}
	}

	return &fixture{
		root:     root,
		cfg:      cfg,
		files:    files,
		enhancer: &fakeEnhancer{},
		notifier: &recordingNotifier{},
	}
}

func (f *fixture) pipeline() *Pipeline {
	deps := Deps{
		Files:     f.files,
		Inpainter: inpaint.NewPassthrough(f.files),
		Enhancer:  f.enhancer,
		Packager: processor.New(f.files, processor.Target{
			Width: f.cfg.Market.Width, Height: f.cfg.Market.Height, Quality: f.cfg.Market.Quality,
		}),
		Notifier: f.notifier,
	}
	sleep := func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return New(f.cfg, deps, WithSleep(sleep))
}

func (f *fixture) writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRunEndToEndSkipsExistingEnhancedOutput(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		f.writePNG(t, "input", name, 64, 96)
	}
	// b.png was enhanced by an earlier, interrupted run.
	f.writePNG(t, "final_upscaled", "upscaled_b.png", 64, 96)

	report, err := f.pipeline().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.enhancer.count(); got != 2 {
		t.Fatalf("remote calls = %d, want 2", got)
	}

	for _, name := range []string{"upscaled_a.jpg", "upscaled_b.jpg", "upscaled_c.jpg"} {
		img, err := imaging.Open(filepath.Join(f.root, "ready_for_wb", name))
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if b := img.Bounds(); b.Dx() != 900 || b.Dy() != 1200 {
			t.Fatalf("%s size = %dx%d, want 900x1200", name, b.Dx(), b.Dy())
		}
	}

	if _, err := os.Stat(filepath.Join(f.root, "mask_auto.png")); err != nil {
		t.Fatalf("mask not written: %v", err)
	}

	if len(report.Summaries) != 4 {
		t.Fatalf("summaries = %d, want 4", len(report.Summaries))
	}
	enh := report.Summaries[1]
	if enh.Stage != model.StageEnhance || enh.Done != 2 || enh.Skipped != 1 || enh.Failed() != 0 {
		t.Fatalf("enhance summary = %+v", enh)
	}
	pkg := report.Summaries[2]
	if pkg.Done != 3 || pkg.Failed() != 0 {
		t.Fatalf("package summary = %+v", pkg)
	}
}

func TestEnhanceSecondRunMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "output", "a.png", 8, 8)
	f.writePNG(t, "output", "b.jpg.png", 8, 8)

	p := f.pipeline()
	if _, err := p.Enhance(context.Background()); err != nil {
		t.Fatalf("first Enhance: %v", err)
	}
	if got := f.enhancer.count(); got != 2 {
		t.Fatalf("first run calls = %d, want 2", got)
	}

	s, err := p.Enhance(context.Background())
	if err != nil {
		t.Fatalf("second Enhance: %v", err)
	}
	if got := f.enhancer.count(); got != 2 {
		t.Fatalf("second run made %d extra calls", got-2)
	}
	if s.Skipped != 2 || s.Done != 0 {
		t.Fatalf("second run summary = %+v", s)
	}
}

func TestEnhancePacesBetweenAttemptedItems(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		f.writePNG(t, "output", name, 4, 4)
	}

	if _, err := f.pipeline().Enhance(context.Background()); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	want := []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}
	if len(f.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", f.sleeps, want)
	}
	for i := range want {
		if f.sleeps[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", f.sleeps, want)
		}
	}
}

func TestEnhanceContinuesAfterItemFailure(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a.png", "b.png"} {
		f.writePNG(t, "output", name, 4, 4)
	}
	f.enhancer.fail = map[int]error{1: errors.New("status 500 Internal Server Error")}

	s, err := f.pipeline().Enhance(context.Background())
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if s.Done != 1 || s.Failed() != 1 || s.Failures[0].Filename != "a.png" {
		t.Fatalf("summary = %+v", s)
	}
	if ok, _ := f.files.Exists("final_upscaled", "upscaled_a.png"); ok {
		t.Fatalf("failed item left an output behind")
	}
	if ok, _ := f.files.Exists("final_upscaled", "upscaled_b.png"); !ok {
		t.Fatalf("second item was not enhanced")
	}

	var failed int
	for _, e := range f.notifier.events {
		if e.Status == model.StatusFailed {
			failed++
			if e.Filename != "a.png" || e.Error == "" {
				t.Fatalf("failed event = %+v", e)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed events = %d, want 1", failed)
	}
}

func TestEnhanceRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "output", "a.png", 4, 4)
	f.enhancer.fail = map[int]error{1: context.DeadlineExceeded}

	s, err := f.pipeline().Enhance(context.Background())
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if s.Done != 1 || f.enhancer.count() != 2 {
		t.Fatalf("summary = %+v, calls = %d", s, f.enhancer.count())
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 10*time.Second {
		t.Fatalf("sleeps = %v, want [10s]", f.sleeps)
	}
}

func TestEnhanceStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "output", "a.png", 4, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.pipeline().Enhance(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.enhancer.count() != 0 {
		t.Fatalf("calls = %d after cancel", f.enhancer.count())
	}
}

func TestPackageContinuesAfterCorruptImage(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "final_upscaled", "upscaled_a.png", 30, 40)
	if err := os.WriteFile(filepath.Join(f.root, "final_upscaled", "upscaled_b.png"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f.writePNG(t, "final_upscaled", "upscaled_c.png", 30, 40)
	if err := os.WriteFile(filepath.Join(f.root, "final_upscaled", ".DS_Store"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := f.pipeline().Package(context.Background())
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if s.Total != 3 || s.Done != 2 || s.Failed() != 1 || s.Failures[0].Filename != "upscaled_b.png" {
		t.Fatalf("summary = %+v", s)
	}
	if ok, _ := f.files.Exists("ready_for_wb", "upscaled_c.jpg"); !ok {
		t.Fatalf("item after the failure was not packaged")
	}
}

func TestPackageSkipsExistingUnlessOverwrite(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "final_upscaled", "upscaled_a.png", 30, 40)
	f.writePNG(t, "ready_for_wb", "upscaled_a.jpg", 10, 10)

	s, err := f.pipeline().Package(context.Background())
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if s.Skipped != 1 || s.Done != 0 {
		t.Fatalf("summary = %+v", s)
	}

	f.cfg.Market.Overwrite = true
	s, err = f.pipeline().Package(context.Background())
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if s.Done != 1 {
		t.Fatalf("overwrite summary = %+v", s)
	}
	img, err := imaging.Open(filepath.Join(f.root, "ready_for_wb", "upscaled_a.jpg"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if img.Bounds().Dx() != 900 {
		t.Fatalf("output was not replaced")
	}
}

type failingRunner struct{ err error }

func (r failingRunner) RunBatch(context.Context, inpaint.Batch) error { return r.err }

func TestCleanFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "input", "a.png", 4, 4)

	p := f.pipeline()
	p.deps.Inpainter = failingRunner{err: inpaint.ErrToolNotFound}

	if _, err := p.Clean(context.Background()); !errors.Is(err, ErrInpaint) || !errors.Is(err, inpaint.ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrInpaint wrapping ErrToolNotFound", err)
	}
}

func TestCleanSkippedWhenAllInputsCleaned(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "input", "a.png", 4, 4)
	f.writePNG(t, "output", "a.png", 4, 4)

	p := f.pipeline()
	p.deps.Inpainter = failingRunner{err: errors.New("must not run")}

	s, err := p.Clean(context.Background())
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if s.Skipped != 1 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture)
		inputs int
	}{
		{"empty input", func(*fixture) {}, 0},
		{"missing token", func(f *fixture) { f.cfg.Enhance.APIToken = " " }, 1},
		{"mark larger than image", func(f *fixture) { f.cfg.Mask.MarkWidth = 100 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for i := 0; i < tt.inputs; i++ {
				f.writePNG(t, "input", "a.png", 4, 4)
			}
			tt.mutate(f)

			_, err := f.pipeline().Run(context.Background())
			if !errors.Is(err, ErrPreflight) {
				t.Fatalf("err = %v, want ErrPreflight", err)
			}
			if f.enhancer.count() != 0 {
				t.Fatalf("remote calls made before preflight passed")
			}
			if _, err := os.Stat(filepath.Join(f.root, "mask_auto.png")); !os.IsNotExist(err) {
				t.Fatalf("mask written despite preflight failure")
			}
		})
	}
}

type fakePublisher struct {
	remote   map[string]bool
	uploaded []string
}

func (p *fakePublisher) Exists(_ context.Context, name string) (bool, error) {
	return p.remote[name], nil
}

func (p *fakePublisher) Upload(_ context.Context, localPath, name string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	p.uploaded = append(p.uploaded, name)
	return "ready/" + name, nil
}

func TestPublishUploadsMissingObjects(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "ready_for_wb", "a.jpg", 4, 4)
	f.writePNG(t, "ready_for_wb", "b.jpg", 4, 4)
	f.writePNG(t, "ready_for_wb", "notes.png", 4, 4)

	pub := &fakePublisher{remote: map[string]bool{"a.jpg": true}}
	p := f.pipeline()
	p.deps.Publisher = pub

	s, err := p.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if s.Total != 2 || s.Skipped != 1 || s.Done != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if len(pub.uploaded) != 1 || pub.uploaded[0] != "b.jpg" {
		t.Fatalf("uploaded = %v", pub.uploaded)
	}
}

func TestPublishWithoutPublisherIsNoop(t *testing.T) {
	f := newFixture(t)
	f.writePNG(t, "ready_for_wb", "a.jpg", 4, 4)

	s, err := f.pipeline().Publish(context.Background())
	if err != nil || s.Total != 0 {
		t.Fatalf("summary = %+v, err = %v", s, err)
	}
}

var _ enhance.Enhancer = (*fakeEnhancer)(nil)
