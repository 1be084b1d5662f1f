package common

import (
	"strconv"
	"strings"
)

// AtoiDefault parses a query value, returning def for blank or malformed input.
func AtoiDefault(value string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return n
}
