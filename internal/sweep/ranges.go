package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// maxValues bounds every generated list and the size of a combo grid.
const maxValues = 10000

// RangeSpec defines a floating-point parameter range for sweeping.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// IntRangeSpec defines an integer parameter range for sweeping.
type IntRangeSpec struct {
	Min  int
	Max  int
	Step int
}

func splitRange(s string) ([3]string, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return [3]string{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}
	return [3]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])}, nil
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts, err := splitRange(s)
	if err != nil {
		return RangeSpec{}, err
	}
	var v [3]float64
	for i, name := range []string{"min", "max", "step"} {
		v[i], err = strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
	}
	if !(v[2] > 0) || math.IsInf(v[2], 0) {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", v[2])
	}
	return RangeSpec{Min: v[0], Max: v[1], Step: v[2]}, nil
}

// ParseIntRangeSpec parses a "min:max:step" string into an IntRangeSpec.
func ParseIntRangeSpec(s string) (IntRangeSpec, error) {
	parts, err := splitRange(s)
	if err != nil {
		return IntRangeSpec{}, err
	}
	var v [3]int
	for i, name := range []string{"min", "max", "step"} {
		v[i], err = strconv.Atoi(parts[i])
		if err != nil {
			return IntRangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
	}
	if v[2] <= 0 {
		return IntRangeSpec{}, fmt.Errorf("step must be positive, got %d", v[2])
	}
	return IntRangeSpec{Min: v[0], Max: v[1], Step: v[2]}, nil
}

// GenerateRange returns the values min, min+step, ... up to and including
// max. It returns nil for an empty or oversized range. Values are rounded to
// nine decimal places so that 0.1 steps do not drift.
func GenerateRange(min, max, step float64) []float64 {
	if !(step > 0) || min > max {
		return nil
	}
	span := (max - min) / step
	if math.IsNaN(span) || span >= maxValues {
		return nil
	}
	n := int(math.Floor(span+1e-9)) + 1
	out := make([]float64, n)
	if n == 1 {
		out[0] = min
	} else {
		floats.Span(out, min, min+float64(n-1)*step)
	}
	for i, v := range out {
		out[i] = math.Round(v*1e9) / 1e9
	}
	return out
}

// GenerateIntRange returns the values min, min+step, ... up to and
// including max, or nil for an empty or oversized range.
func GenerateIntRange(min, max, step int) []int {
	if step <= 0 || min > max {
		return nil
	}
	if (max-min)/step+1 > maxValues {
		return nil
	}
	var out []int
	for v := min; v <= max; v += step {
		out = append(out, v)
	}
	return out
}

// ParseParamList parses either a "min:max:step" range or a comma-separated
// list of floats.
func ParseParamList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		return GenerateRange(spec.Min, spec.Max, spec.Step), nil
	}
	return ParseCSVFloat64s(s)
}

// ParseIntParamList parses either a "min:max:step" range or a
// comma-separated list of integers.
func ParseIntParamList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseIntRangeSpec(s)
		if err != nil {
			return nil, err
		}
		return GenerateIntRange(spec.Min, spec.Max, spec.Step), nil
	}
	return ParseCSVInts(s)
}
