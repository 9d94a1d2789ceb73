package pipeline_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
	"time"

	"github.com/Skryldev/image-optimizer/codec"
	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/pipeline"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func noiseImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rand.New(rand.NewSource(int64(w * h))).Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

// withOrientation prepends an EXIF APP1 segment carrying orientation code.
func withOrientation(jpegData []byte, code uint16) []byte {
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112))
	binary.Write(&tiff, binary.BigEndian, uint16(3))
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, code)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpegData[2:])
	return out.Bytes()
}

func newCodec() *codec.Context {
	return codec.NewContext(codec.NewDefaultRegistry(85), nil)
}

func run(t *testing.T, c *codec.Context, f core.SourceFile, s core.Settings) (*core.Item, error) {
	t.Helper()
	if s.Format == "" {
		s.Format = core.FormatAuto
	}
	pl := pipeline.Default(c, config.Default(), nil)
	item, _, err := pl.Run(context.Background(), &core.Item{File: f, Settings: s})
	return item, err
}

// ── Full pipeline ─────────────────────────────────────────────────────────────

func TestDefault_JPEGResize(t *testing.T) {
	data := encodeJPEG(t, noiseImage(80, 60))
	item, err := run(t, newCodec(), core.SourceFile{Name: "a.jpg", Data: data, MIMEType: "image/jpeg"}, core.Settings{
		Format:  core.FormatJPEG,
		Quality: 80,
		Resize:  core.DimensionRequest{ResizeEnabled: true, Width: 40, Unit: core.UnitPixels, MaintainAspectRatio: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if item.Target != (core.TargetDimensions{Width: 40, Height: 30}) {
		t.Errorf("target = %+v, want 40x30", item.Target)
	}
	if item.Encoded.MIMEType != "image/jpeg" || item.Quality != 80 || item.Iterations != 1 {
		t.Errorf("encoded %s q=%d iter=%d", item.Encoded.MIMEType, item.Quality, item.Iterations)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(item.Encoded.Bytes))
	if err != nil || cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("decoded %dx%d (%v), want 40x30", cfg.Width, cfg.Height, err)
	}
	if item.Source != nil {
		t.Error("source should be released after render")
	}
}

func TestDefault_AppliesEXIFOrientation(t *testing.T) {
	data := withOrientation(encodeJPEG(t, noiseImage(40, 30)), 6)
	item, err := run(t, newCodec(), core.SourceFile{Name: "r.jpg", Data: data}, core.Settings{Format: core.FormatPNG})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if item.Orientation.Code != 6 {
		t.Errorf("orientation = %d, want 6", item.Orientation.Code)
	}
	if item.Target != (core.TargetDimensions{Width: 30, Height: 40}) {
		t.Errorf("target = %+v, want 30x40", item.Target)
	}
}

func TestDefault_AutoFormat(t *testing.T) {
	transparent := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	transparent.SetNRGBA(3, 3, color.NRGBA{R: 200, A: 128})
	item, err := run(t, newCodec(), core.SourceFile{Name: "logo.png", Data: encodePNG(t, transparent)}, core.Settings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if item.OutputFormat != core.FormatPNG {
		t.Errorf("transparent image -> %s, want png", item.OutputFormat)
	}

	item, err = run(t, newCodec(), core.SourceFile{Name: "photo.png", Data: encodePNG(t, noiseImage(128, 128))}, core.Settings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if item.OutputFormat != core.FormatWebP || item.Quality != 75 {
		t.Errorf("photo -> %s q=%d, want webp q=75", item.OutputFormat, item.Quality)
	}
}

func TestDefault_TransparentToJPEGIsFlattened(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	item, err := run(t, newCodec(), core.SourceFile{Name: "t.png", Data: encodePNG(t, img)}, core.Settings{Format: core.FormatJPEG, Quality: 90})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(item.Encoded.Bytes))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r, g, b, _ := decoded.At(8, 8).RGBA(); r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("flattened pixel = %d,%d,%d, want white", r>>8, g>>8, b>>8)
	}
}

func TestDefault_TargetSize(t *testing.T) {
	data := encodeJPEG(t, noiseImage(96, 96))
	item, err := run(t, newCodec(), core.SourceFile{Name: "n.jpg", Data: data}, core.Settings{
		Format:        core.FormatJPEG,
		TargetSizeKB:  8,
		MaxIterations: 6,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if item.Iterations < 1 || item.Iterations > 6 {
		t.Errorf("iterations = %d, want 1..6", item.Iterations)
	}
	if item.Quality < 10 || item.Quality > 95 {
		t.Errorf("quality = %d outside search bounds", item.Quality)
	}
}

func TestDefault_WebPFallsBackToJPEG(t *testing.T) {
	reg := codec.NewDefaultRegistry(85)
	reg.RegisterEncoder(core.FormatWebP, brokenEncoder{})
	item, err := run(t, codec.NewContext(reg, nil), core.SourceFile{Name: "a.jpg", Data: encodeJPEG(t, noiseImage(16, 16))},
		core.Settings{Format: core.FormatWebP, Quality: 70})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if item.OutputFormat != core.FormatJPEG || item.Encoded.MIMEType != "image/jpeg" {
		t.Errorf("output = %s/%s, want jpeg", item.OutputFormat, item.Encoded.MIMEType)
	}
}

// ── Validation and decode failures ────────────────────────────────────────────

func TestValidateAndDecodeErrors(t *testing.T) {
	good := encodeJPEG(t, noiseImage(8, 8))
	corrupt := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x42}, 64)...)

	cases := []struct {
		name string
		file core.SourceFile
		kind apperrors.Kind
	}{
		{"too large", core.SourceFile{Name: "big.jpg", Data: good, Size: 51 * 1024 * 1024}, apperrors.KindFileTooLarge},
		{"not an image", core.SourceFile{Name: "notes.txt", Data: []byte("hello, world"), MIMEType: "text/plain"}, apperrors.KindInvalidFileType},
		{"empty", core.SourceFile{Name: "empty.jpg", MIMEType: "image/jpeg"}, apperrors.KindFileCorrupted},
		{"corrupt jpeg", core.SourceFile{Name: "broken.jpg", Data: corrupt}, apperrors.KindFileCorrupted},
		{"mime lies", core.SourceFile{Name: "x.jpg", Data: []byte("plain text body"), MIMEType: "image/jpeg"}, apperrors.KindFileCorrupted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, newCodec(), tc.file, core.Settings{Format: core.FormatJPEG})
			if !apperrors.IsKind(err, tc.kind) {
				t.Errorf("err = %v, want %s", err, tc.kind)
			}
			if !apperrors.IsRecoverable(err) {
				t.Errorf("%s should be recoverable", tc.kind)
			}
		})
	}
}

// ── Compress and convert ──────────────────────────────────────────────────────

type fixedCompressor struct {
	size int
	mime core.Format
	err  error
}

func (f *fixedCompressor) Name() string { return "fixed" }
func (f *fixedCompressor) Close()       {}
func (f *fixedCompressor) Compress(context.Context, image.Image, core.EncodingRequest) (core.EncodedResult, error) {
	if f.err != nil {
		return core.EncodedResult{}, f.err
	}
	return core.NewEncodedResult(make([]byte, f.size), f.mime), nil
}

type brokenEncoder struct{}

func (brokenEncoder) CanEncode(core.Format) bool { return true }
func (brokenEncoder) Encode(context.Context, image.Image, core.EncodingRequest) (core.EncodedResult, error) {
	return core.EncodedResult{}, errors.New("encoder unavailable")
}

func encodedItem(size int, f core.Format) *core.Item {
	enc := core.NewEncodedResult(make([]byte, size), f)
	return &core.Item{
		File:         core.SourceFile{Name: "x"},
		Raster:       noiseImage(8, 8),
		OutputFormat: core.FormatJPEG,
		Quality:      80,
		Encoded:      &enc,
	}
}

func TestCompressStep_KeepsSmaller(t *testing.T) {
	cases := []struct {
		name string
		comp *fixedCompressor
		want int
	}{
		{"smaller wins", &fixedCompressor{size: 10, mime: core.FormatJPEG}, 10},
		{"larger ignored", &fixedCompressor{size: 5000, mime: core.FormatJPEG}, 100},
		{"wrong mime ignored", &fixedCompressor{size: 10, mime: core.FormatPNG}, 100},
		{"failure degrades", &fixedCompressor{err: errors.New("vips error")}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step := &pipeline.CompressStep{Codec: codec.NewContext(codec.NewDefaultRegistry(85), tc.comp)}
			out, err := step.Execute(context.Background(), encodedItem(100, core.FormatJPEG))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.Encoded.ByteLength != tc.want {
				t.Errorf("size = %d, want %d", out.Encoded.ByteLength, tc.want)
			}
		})
	}
}

func TestConvertStep_FixesMIMEMismatch(t *testing.T) {
	step := &pipeline.ConvertStep{Codec: newCodec()}
	out, err := step.Execute(context.Background(), encodedItem(100, core.FormatPNG))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Encoded.MIMEType != "image/jpeg" {
		t.Errorf("mime = %s, want image/jpeg", out.Encoded.MIMEType)
	}

	same := encodedItem(100, core.FormatJPEG)
	out, err = step.Execute(context.Background(), same)
	if err != nil || out != same {
		t.Errorf("matching MIME should pass through unchanged (err=%v)", err)
	}
}

// ── Runner ────────────────────────────────────────────────────────────────────

type recordingHook struct{ before, after []string }

func (h *recordingHook) BeforeStep(_ context.Context, name string, _ *core.Item) {
	h.before = append(h.before, name)
}
func (h *recordingHook) AfterStep(_ context.Context, name string, _ *core.Item, _ time.Duration, _ error) {
	h.after = append(h.after, name)
}

type namedStep struct {
	name string
	err  error
}

func (s *namedStep) Name() string { return s.name }
func (s *namedStep) Execute(_ context.Context, item *core.Item) (*core.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *item
	out.Iterations++
	return &out, nil
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	hook := &recordingHook{}
	boom := errors.New("boom")
	pl := pipeline.New().
		Use(&namedStep{name: "one"}, &namedStep{name: "two", err: boom}, &namedStep{name: "three"}).
		AddHook(hook)

	_, timings, err := pl.Run(context.Background(), &core.Item{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(hook.before) != 2 || len(hook.after) != 2 {
		t.Errorf("hooks before=%v after=%v, want two steps", hook.before, hook.after)
	}
	if _, ok := timings["three"]; ok {
		t.Error("step after the failure should not run")
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := pipeline.New().Use(&namedStep{name: "one"}).Run(ctx, &core.Item{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDefault_StepOrder(t *testing.T) {
	want := []string{"validate", "decode", "orient", "plan", "render", "analyze", "encode", "compress", "convert"}
	got := pipeline.Default(newCodec(), config.Default(), nil).Steps()
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, got[i], want[i])
		}
	}
}
