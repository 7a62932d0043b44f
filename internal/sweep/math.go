package sweep

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

func parseCSV[T any](s, kind string, parse func(string) (T, error)) ([]T, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]T, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s '%s': %w", kind, p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseCSVFloat64s parses a comma-separated list of float64 values.
// Returns nil, nil for empty input strings.
func ParseCSVFloat64s(s string) ([]float64, error) {
	return parseCSV(s, "float", func(p string) (float64, error) { return strconv.ParseFloat(p, 64) })
}

// ParseCSVInts parses a comma-separated list of int values.
// Returns nil, nil for empty input strings.
func ParseCSVInts(s string) ([]int, error) {
	return parseCSV(s, "int", strconv.Atoi)
}

// ParseCSVBools parses a comma-separated list of booleans.
func ParseCSVBools(s string) ([]bool, error) {
	return parseCSV(s, "bool", strconv.ParseBool)
}

// MeanStddev returns the mean and sample standard deviation of xs.
// Returns (0, 0) for empty slices and a zero deviation for one value.
func MeanStddev(xs []float64) (mean, stddev float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
