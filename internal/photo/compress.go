package photo

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// Compress decodes an image, clamps its longer side to maxDimension while
// preserving aspect ratio, and re-encodes it as JPEG at the given quality.
// Images already within bounds are re-encoded without resizing.
func Compress(r io.Reader, maxDimension, quality int) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > maxDimension || height > maxDimension {
		// A zero dimension tells imaging to scale it proportionally,
		// rounding the shorter side.
		if width >= height {
			img = imaging.Resize(img, maxDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
