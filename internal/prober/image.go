package prober

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Image returns the basic tags for an image file: format, width, height.
// It decodes only the header via image.DecodeConfig — the full pixel
// data is never read.
func Image(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("prober: decode image config: %w", err)
	}

	return map[string]any{
		"format": format,
		"width":  cfg.Width,
		"height": cfg.Height,
	}, nil
}
