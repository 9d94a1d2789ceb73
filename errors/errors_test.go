package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/Skryldev/image-optimizer/errors"
)

func TestKindOf_NestedWrap(t *testing.T) {
	inner := apperrors.Of(apperrors.KindFileCorrupted, apperrors.CategoryDecode, "jpeg.decode", errors.New("eof"))
	outer := apperrors.Wrap(apperrors.CategoryPipeline, "run", fmt.Errorf("item a.jpg: %w", inner))

	if got := apperrors.KindOf(outer); got != apperrors.KindFileCorrupted {
		t.Errorf("KindOf = %q, want FileCorrupted", got)
	}
	if !apperrors.IsRecoverable(outer) {
		t.Error("corrupted file should be recoverable")
	}
	if apperrors.KindOf(errors.New("plain")) != apperrors.KindUnknown {
		t.Error("plain error has no kind")
	}
}

func TestWrapKind_KeepsExistingKind(t *testing.T) {
	inner := apperrors.Of(apperrors.KindCanvasMemory, apperrors.CategoryRaster, "allocate", errors.New("too big"))
	if got := apperrors.KindOf(apperrors.WrapKind(apperrors.KindConversionFailed, apperrors.CategoryEncode, "encode", inner)); got != apperrors.KindCanvasMemory {
		t.Errorf("kind = %q, want CanvasMemoryError", got)
	}
	if apperrors.WrapKind(apperrors.KindConversionFailed, apperrors.CategoryEncode, "encode", nil) != nil {
		t.Error("WrapKind(nil) should be nil")
	}
}

func TestIsCategory(t *testing.T) {
	cases := []struct {
		name string
		err  error
		cat  apperrors.Category
		want bool
	}{
		{"input", apperrors.New(apperrors.CategoryInput, "run", apperrors.ErrNoFiles), apperrors.CategoryInput, true},
		{"other category", apperrors.New(apperrors.CategoryInput, "run", apperrors.ErrNoFiles), apperrors.CategoryConfig, false},
		{"cancelled run", apperrors.Wrap(apperrors.CategoryPipeline, "run", context.DeadlineExceeded), apperrors.CategoryPipeline, true},
		{"wrapped by fmt", fmt.Errorf("ctx: %w", apperrors.New(apperrors.CategoryConfig, "settings", apperrors.ErrInvalidSettings)), apperrors.CategoryConfig, true},
		{"plain", errors.New("x"), apperrors.CategoryInput, false},
	}
	for _, tc := range cases {
		if got := apperrors.IsCategory(tc.err, tc.cat); got != tc.want {
			t.Errorf("%s: IsCategory = %v, want %v", tc.name, got, tc.want)
		}
	}
}
