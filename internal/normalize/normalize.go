// Package normalize re-encodes user images before upload. Arbitrary user
// files routinely exceed what the generation backend will accept within its
// own timeouts, so anything oversized, near the ceiling, or in a format off
// the allow-list is decoded, downscaled, and re-encoded client-side.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupported means the payload is not an image format this
	// pipeline accepts.
	ErrUnsupported = errors.New("normalize: unsupported format")
	// ErrTooBig means the image decoded fine but could not be brought
	// under the byte ceiling within the bounded attempt count.
	ErrTooBig = errors.New("normalize: cannot fit under size ceiling")
	// ErrBroken means the payload did not decode at all.
	ErrBroken = errors.New("normalize: undecodable image")
)

// Config bounds the normalizer. Zero values fall back to defaults.
type Config struct {
	MaxBytes int64
	// MaxEdge caps the longer image dimension after downscaling.
	MaxEdge int
	// NearCeilingRatio widens the trigger: files within this fraction
	// below MaxBytes are re-encoded too, since the backend's effective
	// limit is softer than the hard ceiling.
	NearCeilingRatio float64
	// QualityLadder lists the JPEG qualities tried in order.
	QualityLadder []int
}

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 25 * 1024 * 1024
	}
	if c.MaxEdge <= 0 {
		c.MaxEdge = 2048
	}
	if c.NearCeilingRatio <= 0 {
		c.NearCeilingRatio = 0.3
	}
	if len(c.QualityLadder) == 0 {
		c.QualityLadder = []int{85, 75, 65, 55, 45}
	}
	return c
}

// allowedMIME is the fixed input allow-list. Formats outside it still pass
// through normalization if they decode; the list only decides whether an
// already-small file may skip re-encoding.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
	"image/bmp":  true,
}

// Result is the normalized file.
type Result struct {
	Data    []byte
	MIME    string
	Changed bool
	Width   int
	Height  int
}

// Normalize returns data unchanged when it is already safe, or a
// downscaled JPEG re-encode otherwise.
func Normalize(data []byte, mime string, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if len(data) == 0 {
		return nil, ErrBroken
	}
	mime = strings.ToLower(strings.TrimSpace(mime))

	trigger := int64(float64(cfg.MaxBytes) * (1 - cfg.NearCeilingRatio))
	if allowedMIME[mime] && int64(len(data)) <= trigger {
		cc, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBroken, err)
		}
		if cc.Width <= cfg.MaxEdge && cc.Height <= cfg.MaxEdge {
			return &Result{Data: data, MIME: mime, Width: cc.Width, Height: cc.Height}, nil
		}
	}

	if !strings.HasPrefix(mime, "image/") && mime != "" {
		return nil, ErrUnsupported
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if allowedMIME[mime] || mime == "" || strings.HasPrefix(mime, "image/") {
			return nil, fmt.Errorf("%w: %v", ErrBroken, err)
		}
		return nil, ErrUnsupported
	}

	scaled := downscale(src, cfg.MaxEdge)
	bounds := scaled.Bounds()

	for _, quality := range cfg.QualityLadder {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("normalize: encode: %w", err)
		}
		if int64(buf.Len()) <= cfg.MaxBytes {
			return &Result{
				Data:    buf.Bytes(),
				MIME:    "image/jpeg",
				Changed: true,
				Width:   bounds.Dx(),
				Height:  bounds.Dy(),
			}, nil
		}
	}
	return nil, ErrTooBig
}

// downscale scales src so neither dimension exceeds maxEdge, preserving
// aspect ratio. Images already within bounds are returned as-is.
func downscale(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return src
	}
	scale := float64(maxEdge) / float64(max(w, h))
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
