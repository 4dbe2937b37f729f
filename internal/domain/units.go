package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSizeGB converts sizes like "512MB", "1 gb", "1.5GB" or "2" to GB.
// A value without unit is taken as GB.
func ParseSizeGB(s string) (float64, error) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if v == "" {
		return 0, fmt.Errorf("%w: empty size", ErrInvalidArgument)
	}

	divisor := 1.0
	switch {
	case strings.HasSuffix(v, "mb"):
		v = strings.TrimSuffix(v, "mb")
		divisor = 1024
	case strings.HasSuffix(v, "gb"):
		v = strings.TrimSuffix(v, "gb")
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %v", ErrInvalidArgument, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size %q", ErrInvalidArgument, s)
	}
	return n / divisor, nil
}

// ParseCores converts a core count like "2" to an int.
func ParseCores(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: cpu %q: %v", ErrInvalidArgument, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative cpu %q", ErrInvalidArgument, s)
	}
	return n, nil
}
