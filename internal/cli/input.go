package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// InputError marks a malformed command line.
type InputError struct {
	Line  string
	Usage string
}

func (e *InputError) Error() string {
	if e.Usage == "" {
		return fmt.Sprintf("invalid input: %q", e.Line)
	}
	return fmt.Sprintf("invalid input: %q (usage: %s)", e.Line, e.Usage)
}

var (
	idPattern    = regexp.MustCompile(`\d+`)
	delayPattern = regexp.MustCompile(`^(\d+)(m?)$`)
)

// parseID extracts the first run of digits, so "#3" and "3" both give 3.
func parseID(arg string) (int, bool) {
	m := idPattern.FindString(arg)
	if m == "" {
		return 0, false
	}
	id, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return id, true
}

// parseDelay reads "30" as seconds and "2m" as minutes.
func parseDelay(arg string) (time.Duration, bool) {
	m := delayPattern.FindStringSubmatch(strings.TrimSpace(arg))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	unit := time.Second
	if m[2] == "m" {
		unit = time.Minute
	}
	return time.Duration(n) * unit, true
}
