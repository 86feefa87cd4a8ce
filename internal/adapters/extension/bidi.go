package extension

import (
	"strings"

	"golang.org/x/text/unicode/bidi"
)

// BidiShaper reorders logical-order text into display order using the
// Unicode bidirectional algorithm.
type BidiShaper struct{}

// NewBidiShaper creates the built-in shaper.
func NewBidiShaper() *BidiShaper {
	return &BidiShaper{}
}

// Name implements output.TextShaper.
func (s *BidiShaper) Name() string { return "bidi" }

// Shape implements output.TextShaper. Text that cannot be ordered is
// returned unchanged.
func (s *BidiShaper) Shape(text string) string {
	if text == "" {
		return text
	}

	var p bidi.Paragraph
	if _, err := p.SetString(text); err != nil {
		return text
	}
	order, err := p.Order()
	if err != nil {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < order.NumRuns(); i++ {
		run := order.Run(i)
		if run.Direction() == bidi.RightToLeft {
			b.WriteString(bidi.ReverseString(run.String()))
		} else {
			b.WriteString(run.String())
		}
	}
	return b.String()
}
