package orientation_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"testing"

	"github.com/Skryldev/image-optimizer/core"
	"github.com/Skryldev/image-optimizer/orientation"
)

func TestFromCode_Table(t *testing.T) {
	want := map[int]core.Orientation{
		1: {Code: 1, Rotation: 0},
		2: {Code: 2, Rotation: 0, Mirrored: true},
		3: {Code: 3, Rotation: 180},
		4: {Code: 4, Rotation: 180, Mirrored: true},
		5: {Code: 5, Rotation: 90, Mirrored: true},
		6: {Code: 6, Rotation: 90},
		7: {Code: 7, Rotation: 270, Mirrored: true},
		8: {Code: 8, Rotation: 270},
	}
	for code, o := range want {
		if got := orientation.FromCode(code); got != o {
			t.Errorf("FromCode(%d) = %+v, want %+v", code, got, o)
		}
	}
	for _, code := range []int{-1, 0, 9, 255} {
		if got := orientation.FromCode(code); got != orientation.Normal {
			t.Errorf("FromCode(%d) = %+v, want Normal", code, got)
		}
	}
}

func TestUpright(t *testing.T) {
	w, h := orientation.FromCode(6).Upright(4000, 3000)
	if w != 3000 || h != 4000 {
		t.Errorf("code 6 upright = %dx%d, want 3000x4000", w, h)
	}
	w, h = orientation.FromCode(3).Upright(4000, 3000)
	if w != 4000 || h != 3000 {
		t.Errorf("code 3 upright = %dx%d, want 4000x3000", w, h)
	}
}

// jpegWithOrientation builds a JPEG whose APP1 segment carries a big-endian
// TIFF IFD with a single Orientation entry.
func jpegWithOrientation(t *testing.T, code uint16) []byte {
	t.Helper()
	var img bytes.Buffer
	if err := jpeg.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))      // entry count
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112)) // Orientation
	binary.Write(&tiff, binary.BigEndian, uint16(3))      // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, code)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0)) // next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(img.Bytes()[2:])
	return out.Bytes()
}

func TestResolve_JPEGWithEXIF(t *testing.T) {
	data := jpegWithOrientation(t, 6)
	got := orientation.Resolve(data, "image/jpeg")
	if got.Code != 6 || got.Rotation != 90 || got.Mirrored {
		t.Errorf("Resolve = %+v, want code 6", got)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("fixture is not a valid JPEG: %v", err)
	}
}

func TestResolve_FallsBackToNormal(t *testing.T) {
	exifJPEG := jpegWithOrientation(t, 8)
	cases := map[string]struct {
		data []byte
		mime string
	}{
		"non-jpeg mime":  {exifJPEG, "image/png"},
		"empty":          {nil, "image/jpeg"},
		"garbage":        {[]byte("definitely not a jpeg"), "image/jpeg"},
		"truncated exif": {exifJPEG[:20], "image/jpeg"},
		"out of range":   {jpegWithOrientation(t, 42), "image/jpeg"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := orientation.Resolve(tc.data, tc.mime); got != orientation.Normal {
				t.Errorf("Resolve = %+v, want Normal", got)
			}
		})
	}
}
