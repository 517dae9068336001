package sample

import (
	"log"
	"strings"
)

// ScalingForUnit maps a source sensor's unit of measurement to the factor
// that converts its readings to base watts. Unrecognized units fall back to
// 1.0 with a warning; that can under- or over-scale (e.g. "MW") but matches
// the historical behavior users rely on.
func ScalingForUnit(unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "kw", "kilowatt", "kilowatts":
		return 1000.0
	case "w", "watt", "watts":
		return 1.0
	case "":
		return 1.0
	default:
		log.Printf("sample: unknown unit %q, using scaling factor 1.0", unit)
		return 1.0
	}
}
