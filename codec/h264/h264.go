// Package h264 holds the H.264 specifics the encoder session needs:
// profile and level identifiers and annex-B bitstream inspection.
package h264

import (
	"fmt"
	"strings"
)

// NAL unit types used when classifying encoder output.
const (
	NaluNonIDR   = 1
	NaluCodedIDR = 5
	NaluSEI      = 6
	NaluSPS      = 7
	NaluPPS      = 8
	NaluAUD      = 9
)

// Profile identifiers (profile_idc).
const (
	ProfileBaseline uint8 = 66
	ProfileMain     uint8 = 77
	ProfileHigh     uint8 = 100
)

// Level31 is the default level of the reference encoder configuration (3.1).
const Level31 uint8 = 31

// ParseProfile converts "baseline", "main" or "high" into a profile identifier.
func ParseProfile(s string) (uint8, error) {
	switch strings.ToLower(s) {
	case "baseline", "":
		return ProfileBaseline, nil
	case "main":
		return ProfileMain, nil
	case "high":
		return ProfileHigh, nil
	}
	return 0, fmt.Errorf("unknown h264 profile %q", s)
}

// ParseLevel converts a level such as "3.1" or "31" into level_idc.
func ParseLevel(s string) (uint8, error) {
	if s == "" {
		return Level31, nil
	}
	var major, minor uint
	if strings.Contains(s, ".") {
		if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
			return 0, fmt.Errorf("invalid h264 level %q: %w", s, err)
		}
	} else {
		var idc uint
		if _, err := fmt.Sscanf(s, "%d", &idc); err != nil {
			return 0, fmt.Errorf("invalid h264 level %q: %w", s, err)
		}
		major, minor = idc/10, idc%10 //nolint:mnd
	}
	if major < 1 || major > 6 || minor > 3 {
		return 0, fmt.Errorf("h264 level %q out of range", s)
	}
	return uint8(major*10 + minor), nil //nolint:mnd,gosec
}
