package types

import (
	"fmt"
	"strings"
)

// ClockKind selects the backing store of the node's time source.
type ClockKind uint8

const (
	ClockOff ClockKind = iota
	ClockSoft
	ClockHardware
)

func (k ClockKind) String() string {
	switch k {
	case ClockOff:
		return "off"
	case ClockSoft:
		return "soft"
	case ClockHardware:
		return "hardware"
	}
	return fmt.Sprintf("clock(%d)", uint8(k))
}

func (k ClockKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText accepts off|none|disabled, soft|software and hardware|rtc.
func (k *ClockKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "off", "none", "disabled":
		*k = ClockOff
	case "soft", "software":
		*k = ClockSoft
	case "hardware", "rtc":
		*k = ClockHardware
	default:
		return fmt.Errorf("unknown clock kind %q", string(b))
	}
	return nil
}
