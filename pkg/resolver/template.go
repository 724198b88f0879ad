package resolver

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	tokenRepresentationID = "RepresentationID"
	tokenNumber           = "Number"
	tokenTime             = "Time"
	tokenBandwidth        = "Bandwidth"
)

// $Name$, $Name%0Nd$ or the $$ escape
var tokenRegex = regexp.MustCompile(`\$(RepresentationID|Number|Time|Bandwidth)(?:%0(\d+)d)?\$|\$\$`)

type substitution struct {
	representationID string
	bandwidth        int

	number *uint64
	time   *uint64
}

func expand(template string, s substitution) string {
	return tokenRegex.ReplaceAllStringFunc(template, func(match string) string {
		if match == "$$" {
			return "$"
		}

		sub := tokenRegex.FindStringSubmatch(match)
		name, width := sub[1], sub[2]

		switch name {
		case tokenRepresentationID:
			return s.representationID
		case tokenBandwidth:
			return formatWidth(uint64(s.bandwidth), width)
		case tokenNumber:
			if s.number != nil {
				return formatWidth(*s.number, width)
			}
		case tokenTime:
			if s.time != nil {
				return formatWidth(*s.time, width)
			}
		}

		// not applicable in this context, keep as is
		return match
	})
}

func formatWidth(value uint64, width string) string {
	if width == "" {
		return strconv.FormatUint(value, 10)
	}

	w, err := strconv.Atoi(width)
	if err != nil {
		return strconv.FormatUint(value, 10)
	}

	return fmt.Sprintf("%0*d", w, value)
}

func hasToken(template string, name string) bool {
	for _, sub := range tokenRegex.FindAllStringSubmatch(template, -1) {
		if sub[1] == name {
			return true
		}
	}
	return false
}
