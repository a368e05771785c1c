// Package imaging prepares uploaded slip images before verification and archiving.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/disintegration/imaging"
)

// MaxUploadSize is the largest slip image accepted (5MB).
const MaxUploadSize int64 = 5 * 1024 * 1024

var ErrUnsupportedType = errors.New("unsupported image type")

type Config struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func DefaultConfig() Config {
	return Config{MaxWidth: 1600, MaxHeight: 1600, Quality: 85}
}

// Normalized is a re-encoded JPEG ready for the verifier and the archive.
type Normalized struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

type Normalizer struct {
	config Config
}

func NewNormalizer(config Config) *Normalizer {
	return &Normalizer{config: config}
}

// Normalize decodes, applies EXIF orientation, fits the image inside the
// configured bounds and re-encodes it as JPEG.
func (n *Normalizer) Normalize(data []byte) (*Normalized, error) {
	switch http.DetectContentType(data) {
	case "image/jpeg", "image/png", "image/gif", "image/bmp":
	default:
		return nil, ErrUnsupportedType
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode slip image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > n.config.MaxWidth || b.Dy() > n.config.MaxHeight {
		img = imaging.Fit(img, n.config.MaxWidth, n.config.MaxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.config.Quality)); err != nil {
		return nil, fmt.Errorf("encode slip image: %w", err)
	}

	return &Normalized{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}
