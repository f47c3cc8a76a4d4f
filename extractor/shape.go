package extractor

import (
	"fmt"
	"regexp"
)

// Tokens are the raw digit runs a shape pulls out of a segment.
type Tokens struct {
	DateRaw   string
	AmountRaw string
	MobileRaw string
}

type Shape struct {
	Name    string
	Pattern *regexp.Regexp
}

func compileShapes(cfgs []ShapeConfig) ([]Shape, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no record shapes configured")
	}

	shapes := make([]Shape, 0, len(cfgs))
	for i, c := range cfgs {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("shape %q: %w", c.Name, err)
		}
		if re.NumSubexp() != 3 {
			return nil, fmt.Errorf("shape %q: expected 3 capture groups, got %d", c.Name, re.NumSubexp())
		}
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("shape_%d", i+1)
		}
		shapes = append(shapes, Shape{Name: name, Pattern: re})
	}
	return shapes, nil
}

// Match applies the shape to the segment preceding the status marker.
func (s Shape) Match(segment string) (Tokens, bool) {
	m := s.Pattern.FindStringSubmatch(segment)
	if m == nil {
		return Tokens{}, false
	}
	return Tokens{DateRaw: m[1], AmountRaw: m[2], MobileRaw: m[3]}, true
}

// matchShapes returns the first shape, in priority order, that matches.
func matchShapes(shapes []Shape, segment string) (Shape, Tokens, bool) {
	for _, s := range shapes {
		if tok, ok := s.Match(segment); ok {
			return s, tok, true
		}
	}
	return Shape{}, Tokens{}, false
}
