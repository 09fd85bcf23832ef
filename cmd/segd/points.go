package main

import (
	"fmt"
	"strconv"
	"strings"

	"segd/internal/pipeline"
)

// parsePoint parses "x,y" or "x,y,fg|bg" with normalized coordinates.
func parsePoint(s string) (pipeline.PromptPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return pipeline.PromptPoint{}, fmt.Errorf("point %q: want x,y[,fg|bg]", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return pipeline.PromptPoint{}, fmt.Errorf("point %q: x: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return pipeline.PromptPoint{}, fmt.Errorf("point %q: y: %w", s, err)
	}
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return pipeline.PromptPoint{}, fmt.Errorf("point %q: coordinates must be in [0,1]", s)
	}
	p := pipeline.PromptPoint{X: x, Y: y}
	if len(parts) == 3 {
		cat, ok := pipeline.ParseCategory(strings.TrimSpace(parts[2]))
		if !ok {
			return pipeline.PromptPoint{}, fmt.Errorf("point %q: unknown category %q", s, parts[2])
		}
		p.Category = cat
	}
	return p, nil
}

func parsePoints(in []string) ([]pipeline.PromptPoint, error) {
	out := make([]pipeline.PromptPoint, 0, len(in))
	for _, s := range in {
		p, err := parsePoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
