package types

import (
	"fmt"
	"strings"
)

// ---- Measurement categories ----

// Category identifies one slot of the per-cycle reading snapshot.
type Category uint8

const (
	CatVoltage Category = iota
	CatTemperature
	CatTemperatureExternal
	CatPressure
	CatHumidity
	CatIlluminance
	CatUVIntensity

	NumCategories
)

var categoryNames = [NumCategories]string{
	"voltage",
	"temperature",
	"temperature_external",
	"pressure",
	"humidity",
	"illuminance",
	"uv_intensity",
}

// Line-protocol field keys. The trailing digit is the sensor slot.
var categoryFields = [NumCategories]string{
	"voltage0",
	"temperature0",
	"temperature1",
	"pressure0",
	"humidity0",
	"illuminance0",
	"uvintensity0",
}

// Units are only used for diagnostics.
var categoryUnits = [NumCategories]string{"V", "°C", "°C", "Pa", "%RH", "lx", "mW/cm²"}

func (c Category) Valid() bool { return c < NumCategories }

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// Field returns the key used for c in an outgoing record.
func (c Category) Field() string {
	if !c.Valid() {
		return ""
	}
	return categoryFields[c]
}

func (c Category) Unit() string {
	if !c.Valid() {
		return ""
	}
	return categoryUnits[c]
}

// Categories returns every valid category in snapshot order.
func Categories() []Category {
	out := make([]Category, 0, NumCategories)
	for c := Category(0); c < NumCategories; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory accepts the category name, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == s {
			return Category(i), true
		}
	}
	return 0, false
}

// ---- Link state ----

// LinkState is the connectivity manager's state.
type LinkState string

const (
	LinkIdle       LinkState = "idle"
	LinkConnecting LinkState = "connecting"
	LinkConnected  LinkState = "connected"
	LinkFailed     LinkState = "failed"
)
