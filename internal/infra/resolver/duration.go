package resolver

import (
	"strconv"
	"strings"
	"time"
)

// parseColonDuration parses duration strings like "3:20" or "1:05:20".
func parseColonDuration(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	var h, m, sec int
	var err error
	if len(parts) == 3 {
		h, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0
		}
		parts = parts[1:]
	}
	m, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	sec, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}
