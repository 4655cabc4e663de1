package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/bbrks/go-blurhash"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// blurHashSize bounds the thumbnail the hash is computed from.
const blurHashSize = 64

// coverBlurHash downloads a cover and returns its BlurHash placeholder.
func (c *Client) coverBlurHash(ctx context.Context, coverURL string) (string, error) {
	body, err := c.get(ctx, coverURL, "image/*")
	if err != nil {
		return "", wrapError("cover", coverURL, err)
	}
	return blurHashOf(body)
}

func blurHashOf(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode cover: %w", err)
	}

	hash, err := blurhash.Encode(4, 3, thumbnail(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

// thumbnail scales img to fit blurHashSize, keeping its aspect ratio.
func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= blurHashSize && h <= blurHashSize {
		return img
	}

	if w > h {
		h = max(h*blurHashSize/w, 1)
		w = blurHashSize
	} else {
		w = max(w*blurHashSize/h, 1)
		h = blurHashSize
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
