// Package imagecmp scores the pixel-level similarity between a render and
// the target image. It is the deterministic half of verification; the model
// weighs its score as evidence rather than trusting it outright.
package imagecmp

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
)

// Report is the structured outcome of one comparison. Score is 1 for
// identical pixels and falls toward 0 with the root-mean-square error.
type Report struct {
	Score       float64
	Description string
}

// Compare loads both images and scores them. Differing dimensions compare
// over the overlapping region and are called out in the description.
func Compare(currentPath, targetPath string) (Report, error) {
	current, err := load(currentPath)
	if err != nil {
		return Report{}, fmt.Errorf("imagecmp: load current: %w", err)
	}
	target, err := load(targetPath)
	if err != nil {
		return Report{}, fmt.Errorf("imagecmp: load target: %w", err)
	}

	cb, tb := current.Bounds(), target.Bounds()
	w := min(cb.Dx(), tb.Dx())
	h := min(cb.Dy(), tb.Dy())
	if w == 0 || h == 0 {
		return Report{Description: "no overlapping region to compare"}, nil
	}

	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cbl, _ := current.At(cb.Min.X+x, cb.Min.Y+y).RGBA()
			tr, tg, tbl, _ := target.At(tb.Min.X+x, tb.Min.Y+y).RGBA()
			sum += sq(cr, tr) + sq(cg, tg) + sq(cbl, tbl)
		}
	}
	rmse := math.Sqrt(sum / float64(w*h*3))
	score := 1 - rmse

	desc := fmt.Sprintf("pixel similarity %.3f over %dx%d", score, w, h)
	if cb.Dx() != tb.Dx() || cb.Dy() != tb.Dy() {
		desc += fmt.Sprintf(" (dimensions differ: render %dx%d, target %dx%d)",
			cb.Dx(), cb.Dy(), tb.Dx(), tb.Dy())
	}
	return Report{Score: score, Description: desc}, nil
}

func load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// sq is the squared channel difference normalized to [0,1].
func sq(a, b uint32) float64 {
	d := (float64(a) - float64(b)) / 0xffff
	return d * d
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
