// Package numeric centralizes the one rounding-and-formatting routine every
// outbound decimal in the engine's output passes through, replacing the
// scattered fmt.Sprintf("%.Nf", ...) call sites the teacher used for display
// formatting. Every suggestion score, confidence, cost, and metric is
// rounded here, and only here.
package numeric

import "github.com/shopspring/decimal"

// Places is the fixed number of fractional digits every outbound decimal is
// rounded to.
const Places = 3

// Round3 applies banker's rounding (round-half-to-even) to three fractional
// digits and returns the result as a float64, matching the data model's use
// of plain floats for rational fields with a fixed denominator of 1000.
func Round3(v float64) float64 {
	d := decimal.NewFromFloat(v)
	r := d.RoundBank(Places)
	f, _ := r.Float64()
	return f
}

// Round3Ptr rounds a possibly-absent decimal, preserving its absence.
func Round3Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := Round3(*v)
	return &r
}

// Ptr is a small convenience for building *float64 literals inline at call
// sites that set optional Suggestion fields.
func Ptr(v float64) *float64 {
	r := Round3(v)
	return &r
}
