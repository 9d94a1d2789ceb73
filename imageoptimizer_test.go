package imageoptimizer_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	imageoptimizer "github.com/Skryldev/image-optimizer"
	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/hooks"
)

func jpegFile(t *testing.T, name string, w, h int) core.SourceFile {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return core.SourceFile{Data: buf.Bytes(), Name: name, MIMEType: "image/jpeg", Size: int64(buf.Len())}
}

func newOptimizer(t *testing.T, opts ...imageoptimizer.Option) *imageoptimizer.Optimizer {
	t.Helper()
	opt, err := imageoptimizer.New(imageoptimizer.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(opt.Close)
	return opt
}

func TestOptimize_BatchIsolation(t *testing.T) {
	metrics := hooks.NewInMemoryMetrics()
	opt := newOptimizer(t, imageoptimizer.WithMetrics(metrics))

	files := make([]core.SourceFile, 0, 5)
	for i := 0; i < 5; i++ {
		files = append(files, jpegFile(t, "photo.jpg", 64, 48))
	}
	files[2] = core.SourceFile{Data: []byte("\xff\xd8\xff\xe0 truncated"), Name: "broken.jpg", MIMEType: "image/jpeg", Size: 15}

	settings := imageoptimizer.DefaultSettings()
	settings.Format = imageoptimizer.JPEG
	settings.Quality = 80
	settings.Resize = core.DimensionRequest{Width: 32, Unit: core.UnitPixels, MaintainAspectRatio: true, ResizeEnabled: true}

	run, err := opt.Optimize(context.Background(), files, settings)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(run.Results) != 5 || run.SuccessCount != 4 || run.ErrorCount != 1 {
		t.Fatalf("results=%d ok=%d failed=%d, want 5/4/1", len(run.Results), run.SuccessCount, run.ErrorCount)
	}
	bad := run.Results[2]
	if bad.Status != core.StatusError || bad.ErrorMessage == "" {
		t.Errorf("third item = %+v, want error", bad)
	}
	for i, r := range run.Results {
		if i == 2 {
			continue
		}
		if r.Status != core.StatusDone || r.Width != 32 || r.Height != 24 || r.NewName != "photo_optimized.jpg" {
			t.Errorf("item %d = %+v", i, r)
		}
	}
	if processed, failed := opt.Stats(); processed != 4 || failed != 1 {
		t.Errorf("stats = %d/%d, want 4/1", processed, failed)
	}
	if snap := metrics.Snapshot(); snap.Results[core.StatusDone] != 4 {
		t.Errorf("metrics results = %v", snap.Results)
	}
}

func TestOptimize_NoFiles(t *testing.T) {
	opt := newOptimizer(t)
	_, err := opt.Optimize(context.Background(), nil, imageoptimizer.DefaultSettings())
	if !errors.Is(err, apperrors.ErrNoFiles) {
		t.Errorf("err = %v, want ErrNoFiles", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Search.MaxIterations = 0
	if _, err := imageoptimizer.New(cfg); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestNew_CompressorFactoryFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Accelerated.Enabled = true
	opt, err := imageoptimizer.New(cfg, imageoptimizer.WithCompressorFactory(
		func(config.AcceleratedConfig) (core.Compressor, error) { return nil, errors.New("no libvips") },
	))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer opt.Close()

	settings := imageoptimizer.DefaultSettings()
	settings.Format = imageoptimizer.PNG
	run, err := opt.Optimize(context.Background(), []core.SourceFile{jpegFile(t, "a.jpg", 16, 16)}, settings)
	if err != nil || run.SuccessCount != 1 {
		t.Fatalf("run=%+v err=%v", run, err)
	}
	if run.Results[0].Format != core.FormatPNG {
		t.Errorf("format = %s, want png", run.Results[0].Format)
	}
}

func TestSubmit_Async(t *testing.T) {
	opt := newOptimizer(t)
	opt.Start()

	results := make(chan core.JobResult, 1)
	settings := imageoptimizer.DefaultSettings()
	settings.Format = imageoptimizer.JPEG
	err := opt.Submit(core.Job{
		Files:    []core.SourceFile{jpegFile(t, "a.jpg", 16, 16)},
		Settings: settings,
		ResultCh: results,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-results:
		if res.Err != nil || res.Run.SuccessCount != 1 || res.JobID == "" {
			t.Errorf("job result = %+v", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestSteps(t *testing.T) {
	opt := newOptimizer(t)
	want := []string{"validate", "decode", "orient", "plan", "render", "analyze", "encode", "compress", "convert"}
	got := opt.Steps()
	if len(got) != len(want) {
		t.Fatalf("steps = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	cases := []struct{ name, format, want string }{
		{"vacation.JPG", "webp", "vacation_optimized.webp"},
		{"scan.png", "jpeg", "scan_optimized.jpg"},
		{"noext", "png", "noext_optimized.png"},
	}
	for _, tc := range cases {
		if got := imageoptimizer.GenerateOutputFilename(tc.name, tc.format); got != tc.want {
			t.Errorf("GenerateOutputFilename(%q, %q) = %q, want %q", tc.name, tc.format, got, tc.want)
		}
	}
}
