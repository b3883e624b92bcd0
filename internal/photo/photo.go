// Package photo prepares student photos for upload.
package photo

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// DefaultMaxSide bounds the longer edge of an uploaded photo.
const DefaultMaxSide = 512

// ErrEmpty is returned for a zero-length upload.
var ErrEmpty = errors.New("photo is empty")

// Normalize decodes an image, applies EXIF orientation, shrinks it to fit within
// maxSide x maxSide and re-encodes it as JPEG. Smaller images are not enlarged.
func Normalize(data []byte, maxSide int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return out.Bytes(), nil
}
