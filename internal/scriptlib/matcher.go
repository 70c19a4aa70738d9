package scriptlib

import (
	"fmt"
	"image"
)

// MatchResult is the outcome of comparing a reference image against a
// frame.
type MatchResult struct {
	Matched    bool
	Similarity float64
	Region     image.Rectangle
}

// Matcher compares a reference image against a device frame. Image
// matching proper is a collaborator concern; the default implementation is
// deliberately simple and meant to be replaced for real deployments.
type Matcher interface {
	Match(frame, reference image.Image, threshold float64) (MatchResult, error)
}

// meanDiffMatcher matches when the normalized mean absolute luma
// difference between the reference and the same-size top-left region of
// the frame stays under 1-threshold.
type meanDiffMatcher struct{}

func (meanDiffMatcher) Match(frame, reference image.Image, threshold float64) (MatchResult, error) {
	fb, rb := frame.Bounds(), reference.Bounds()
	if rb.Dx() > fb.Dx() || rb.Dy() > fb.Dy() {
		return MatchResult{}, &ConfigurationError{
			Msg: fmt.Sprintf("reference image %dx%d is larger than frame %dx%d",
				rb.Dx(), rb.Dy(), fb.Dx(), fb.Dy()),
		}
	}

	similarity := 1 - meanLumaDiff(frame, reference)
	return MatchResult{
		Matched:    similarity >= threshold,
		Similarity: similarity,
		Region:     image.Rect(0, 0, rb.Dx(), rb.Dy()),
	}, nil
}

// meanLumaDiff returns the mean absolute luma difference over the overlap
// of the two images, normalized to [0, 1].
func meanLumaDiff(a, b image.Image) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	w := min(ab.Dx(), bb.Dx())
	h := min(ab.Dy(), bb.Dy())
	if w == 0 || h == 0 {
		return 1
	}

	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			la := luma(a.At(ab.Min.X+x, ab.Min.Y+y).RGBA())
			lb := luma(b.At(bb.Min.X+x, bb.Min.Y+y).RGBA())
			d := la - lb
			if d < 0 {
				d = -d
			}
			total += d
		}
	}
	return total / float64(w*h)
}

// luma maps premultiplied 16-bit RGBA to a [0, 1] brightness value.
func luma(r, g, b, _ uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 0xffff
}
