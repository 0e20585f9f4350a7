package photo

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

// makeJPEG renders a gradient test image so compression has real pixel data.
func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y += 4 {
		for x := 0; x < width; x += 4 {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode compressed output: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestCompress_ClampsLandscapeWidth(t *testing.T) {
	out, err := Compress(bytes.NewReader(makeJPEG(t, 4000, 2000)), 2048, 85)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	w, h := decodeDims(t, out)
	if w != 2048 {
		t.Errorf("expected width 2048, got %d", w)
	}
	if h < 1023 || h > 1025 {
		t.Errorf("expected height ~1024, got %d", h)
	}
}

func TestCompress_ClampsPortraitHeight(t *testing.T) {
	out, err := Compress(bytes.NewReader(makeJPEG(t, 1500, 3000)), 2048, 85)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	w, h := decodeDims(t, out)
	if h != 2048 {
		t.Errorf("expected height 2048, got %d", h)
	}
	if w < 1023 || w > 1025 {
		t.Errorf("expected width ~1024, got %d", w)
	}
}

func TestCompress_SmallImageNotUpscaled(t *testing.T) {
	out, err := Compress(bytes.NewReader(makeJPEG(t, 800, 600)), 2048, 85)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	w, h := decodeDims(t, out)
	if w != 800 || h != 600 {
		t.Errorf("expected 800x600 preserved, got %dx%d", w, h)
	}
}

func TestCompress_RejectsGarbage(t *testing.T) {
	if _, err := Compress(bytes.NewReader([]byte("not an image")), 2048, 85); err == nil {
		t.Error("expected decode error for non-image input")
	}
}
