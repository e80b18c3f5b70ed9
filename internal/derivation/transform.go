package derivation

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// Transform turns source bytes into a derived artifact. It must be
// deterministic for a given input so that redelivered tasks overwrite the
// derived object with identical content.
type Transform interface {
	Derive(ctx context.Context, src []byte, contentType, key string) ([]byte, string, error)
}

// PassThrough copies the source verbatim.
type PassThrough struct{}

func (PassThrough) Derive(_ context.Context, src []byte, contentType, _ string) ([]byte, string, error) {
	return append([]byte(nil), src...), contentType, nil
}

// Resize fits the image inside Width x Height, keeping the aspect ratio and
// the source format. Images already within the box are re-encoded unscaled.
type Resize struct {
	Width  int
	Height int
}

func (r Resize) Derive(ctx context.Context, src []byte, contentType, key string) ([]byte, string, error) {
	format, err := imaging.FormatFromFilename(key)
	if err != nil {
		return nil, "", fmt.Errorf("resize %s: %w", key, err)
	}
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	thumb := imaging.Fit(img, r.Width, r.Height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, format); err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", key, err)
	}
	return buf.Bytes(), contentType, nil
}

// NewTransform resolves a transform by name.
func NewTransform(name string, width, height int) (Transform, error) {
	switch name {
	case "", "passthrough":
		return PassThrough{}, nil
	case "resize":
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("resize transform needs positive bounds, got %dx%d", width, height)
		}
		return Resize{Width: width, Height: height}, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}
