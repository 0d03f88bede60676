// Package imaging builds the combined Moment artifact from the two
// captured images.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/gift"
)

const jpegQuality = 85

// Combine composes the initiator's image above the partner's into one square
// JPEG. Both halves are resized to a common width (the larger of the two
// source widths) and a height of half that width, using a center-anchored
// crop fit so neither half is letterboxed. The vertical order is fixed:
// initiator on top, partner on the bottom.
//
// Either source failing to decode fails the whole step; there is no blank
// frame substitution.
func Combine(initiator, partner []byte) ([]byte, error) {
	top, _, err := image.Decode(bytes.NewReader(initiator))
	if err != nil {
		return nil, fmt.Errorf("failed to decode initiator image: %w", err)
	}
	bottom, _, err := image.Decode(bytes.NewReader(partner))
	if err != nil {
		return nil, fmt.Errorf("failed to decode partner image: %w", err)
	}

	width := top.Bounds().Dx()
	if bottom.Bounds().Dx() > width {
		width = bottom.Bounds().Dx()
	}
	if width <= 0 {
		return nil, fmt.Errorf("source images have no width")
	}
	// keep the composite square
	if width%2 != 0 {
		width++
	}
	halfHeight := width / 2

	out := image.NewRGBA(image.Rect(0, 0, width, width))
	draw.Draw(out, image.Rect(0, 0, width, halfHeight), fitHalf(top, width, halfHeight), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, halfHeight, width, width), fitHalf(bottom, width, halfHeight), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode combined image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitHalf scales and center-crops src to exactly width x height.
func fitHalf(src image.Image, width, height int) image.Image {
	g := gift.New(gift.ResizeToFill(width, height, gift.LanczosResampling, gift.CenterAnchor))
	dst := image.NewRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}
