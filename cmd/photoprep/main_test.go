package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/photoprep/internal/pipeline"
)

type cliTestEnv struct {
	base       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("REPLICATE_API_TOKEN", "")

	base := t.TempDir()
	for _, dir := range []string{"input", "output", "final_upscaled", "ready_for_wb"} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}

	configPath := filepath.Join(base, "config.yml")
	content := fmt.Sprintf(`paths:
  input: %[1]s/input
  clean: %[1]s/output
  enhanced: %[1]s/final_upscaled
  ready: %[1]s/ready_for_wb
  mask: %[1]s/mask_auto.png
inpaint:
  engine: passthrough
`, base)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return &cliTestEnv{base: base, configPath: configPath}
}

func (e *cliTestEnv) execute(args ...string) error {
	cmd := newRootCommand()
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestMaskCommandWritesMask(t *testing.T) {
	env := setupCLITestEnv(t)

	if err := env.execute("mask"); err != nil {
		t.Fatalf("mask: %v", err)
	}

	img, err := imaging.Open(filepath.Join(env.base, "mask_auto.png"))
	if err != nil {
		t.Fatalf("open mask: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 832 || b.Dy() != 1248 {
		t.Fatalf("mask size = %dx%d, want 832x1248", b.Dx(), b.Dy())
	}
}

func TestPackageCommandNeedsNoToken(t *testing.T) {
	env := setupCLITestEnv(t)

	src := imaging.New(300, 300, color.NRGBA{R: 10, G: 200, B: 10, A: 255})
	if err := imaging.Save(src, filepath.Join(env.base, "final_upscaled", "upscaled_a.png")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := env.execute("package"); err != nil {
		t.Fatalf("package: %v", err)
	}

	img, err := imaging.Open(filepath.Join(env.base, "ready_for_wb", "upscaled_a.jpg"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 900, 1200) {
		t.Fatalf("output bounds = %v", img.Bounds())
	}
}

func TestRunWithoutTokenFailsPreflight(t *testing.T) {
	env := setupCLITestEnv(t)

	err := env.execute("run")
	if !errors.Is(err, pipeline.ErrPreflight) {
		t.Fatalf("err = %v, want ErrPreflight", err)
	}
	if _, statErr := os.Stat(filepath.Join(env.base, "mask_auto.png")); !os.IsNotExist(statErr) {
		t.Fatalf("mask written despite failed preflight")
	}
}

func TestPublishDisabled(t *testing.T) {
	env := setupCLITestEnv(t)

	err := env.execute("publish")
	if err == nil || !strings.Contains(err.Error(), "publishing is disabled") {
		t.Fatalf("err = %v, want publishing disabled", err)
	}
}

func TestUnknownConfigFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yml"), "mask"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
