package search

import (
	"fmt"
	"strconv"
	"strings"
)

// Layer identifies one discovery technique. Layers run in ascending order and
// the first one that finds anything wins.
type Layer int

const (
	LayerNone Layer = iota
	LayerSpecific
	LayerPattern
	LayerSemantic
	LayerHierarchy
	LayerVisual
	LayerAccessibility
	LayerPixel
)

var layerNames = map[Layer]string{
	LayerNone:          "none",
	LayerSpecific:      "specific",
	LayerPattern:       "pattern",
	LayerSemantic:      "semantic",
	LayerHierarchy:     "hierarchy",
	LayerVisual:        "visual",
	LayerAccessibility: "accessibility",
	LayerPixel:         "pixel",
}

// Layers returns every discovery layer in the order they are tried.
func Layers() []Layer {
	return []Layer{
		LayerSpecific, LayerPattern, LayerSemantic, LayerHierarchy,
		LayerVisual, LayerAccessibility, LayerPixel,
	}
}

func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return fmt.Sprintf("layer(%d)", int(l))
}

// MarshalText renders the layer by name.
func (l Layer) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText accepts what MarshalText produces, including "none".
func (l *Layer) UnmarshalText(b []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(b)), "none") {
		*l = LayerNone
		return nil
	}
	parsed, err := ParseLayer(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLayer accepts a layer name or its number.
func ParseLayer(s string) (Layer, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		l := Layer(n)
		if l >= LayerSpecific && l <= LayerPixel {
			return l, nil
		}
		return LayerNone, fmt.Errorf("layer %d out of range", n)
	}
	for l, name := range layerNames {
		if name == s && l != LayerNone {
			return l, nil
		}
	}
	return LayerNone, fmt.Errorf("unknown layer %q", s)
}
