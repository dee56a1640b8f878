// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"fmt"
	"math"
)

// ColorScheme selects how a normalized value maps to a color.
type ColorScheme string

const (
	// SchemeHeatmap runs red (0) to green (100).
	SchemeHeatmap ColorScheme = "heatmap"

	// SchemeActivity runs blue (0) through to red (100).
	SchemeActivity ColorScheme = "activity"

	// SchemeGrayscale runs black (0) to white (100).
	SchemeGrayscale ColorScheme = "grayscale"
)

// ParseColorScheme returns the named scheme, or SchemeHeatmap for
// unknown and empty names.
func ParseColorScheme(name string) ColorScheme {
	switch s := ColorScheme(name); s {
	case SchemeHeatmap, SchemeActivity, SchemeGrayscale:
		return s
	default:
		return SchemeHeatmap
	}
}

// ClusterPalette is the color cycle assigned to clusters by id.
var ClusterPalette = []string{
	"#ff5733", "#33ff57", "#3357ff", "#ff33f5", "#f5ff33",
	"#33fff5", "#ff8c33", "#8c33ff", "#33ff8c", "#ff338c",
}

// ClusterColor returns the palette color for a cluster id.
func ClusterColor(id int) string {
	if id < 0 {
		id = -id
	}
	return ClusterPalette[id%len(ClusterPalette)]
}

// HSL is a color in hue (degrees), saturation and lightness (percent).
type HSL struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Lightness  float64 `json:"lightness"`
}

// MapColor maps a value in [0,100] to an HSL color under scheme.
// Values outside the range are clamped.
func MapColor(value float64, scheme ColorScheme) HSL {
	v := clamp(value, 0, 100)
	switch ParseColorScheme(string(scheme)) {
	case SchemeActivity:
		h := 240 - v*2.4
		if h < 0 {
			h += 360
		}
		return HSL{Hue: h, Saturation: 70 + v*0.3, Lightness: 50 - v*0.15}
	case SchemeGrayscale:
		return HSL{Hue: 0, Saturation: 0, Lightness: v}
	default:
		return HSL{Hue: v * 1.2, Saturation: 80 + v*0.2, Lightness: 50 - v*0.2}
	}
}

// RGB converts the color to 8-bit channels.
//
// Each channel is rounded to the nearest integer and clamped to [0,255].
func (c HSL) RGB() (r, g, b uint8) {
	h := c.Hue / 360
	s := c.Saturation / 100
	l := c.Lightness / 100

	if s == 0 {
		v := toChannel(l)
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	return toChannel(hueToRGB(p, q, h+1.0/3)),
		toChannel(hueToRGB(p, q, h)),
		toChannel(hueToRGB(p, q, h-1.0/3))
}

// Hex returns the color as "#rrggbb" in lowercase.
func (c HSL) Hex() string {
	r, g, b := c.RGB()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func toChannel(x float64) uint8 {
	return uint8(clamp(math.Round(x*255), 0, 255))
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}
