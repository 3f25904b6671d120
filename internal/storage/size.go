package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses an IEC-unit size string ("10GiB", "512MiB", or a bare
// number of MiB) into bytes. Case-insensitive, IEC units only.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix string
		mult   uint64
	}{
		{"tib", 1 << 40},
		{"gib", 1 << 30},
		{"mib", 1 << 20},
		{"kib", 1 << 10},
	}

	lower := strings.ToLower(s)
	for _, u := range units {
		if strings.HasSuffix(lower, u.suffix) {
			numPart := strings.TrimSpace(lower[:len(lower)-len(u.suffix)])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing size %q: %w", s, err)
			}
			return uint64(n * float64(u.mult)), nil
		}
	}

	// bare number defaults to MiB
	n, err := strconv.ParseFloat(lower, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: unrecognized unit (use KiB/MiB/GiB/TiB)", s)
	}
	return uint64(n * float64(1<<20)), nil
}

// alignTo1MiB rounds n up to the nearest 1 MiB boundary; every
// partition start is 1 MiB aligned.
func alignTo1MiB(n uint64) uint64 {
	const mib = 1 << 20
	if n%mib == 0 {
		return n
	}
	return (n/mib + 1) * mib
}
