package main

import "strings"

// Sensor is one flattened measurement extracted from a PowerOcean response.
// UniqueID is stable across fetches for the same physical quantity so Home
// Assistant can correlate a series over time.
type Sensor struct {
	UniqueID     string
	Serial       string
	Name         string
	FriendlyName string
	Value        any
	Unit         string // empty = unitless
	Description  string
	Icon         string // empty = no icon
}

// newSensor builds a Sensor and derives unit and description from the vendor
// key, keeping that logic in one place instead of repeating it per extractor.
func newSensor(uniqueID, serial, name, friendlyName string, value any, key, icon string) Sensor {
	return Sensor{
		UniqueID:     uniqueID,
		Serial:       serial,
		Name:         name,
		FriendlyName: friendlyName,
		Value:        value,
		Unit:         unitForKey(key),
		Description:  descriptionForKey(key),
		Icon:         icon,
	}
}

// hasAnySuffix reports whether key ends with any of the given suffixes.
// Matching is case-sensitive, the vendor mixes casings deliberately
// (e.g. "pwr" on PV strings vs "Pwr" on system totals).
func hasAnySuffix(key string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// unitForKey infers the unit of a measurement from its vendor key.
// The order of the checks matters: "bpTotalChgEnergy" must resolve to Wh
// before the Generation rule gets a chance, etc.
func unitForKey(key string) string {
	switch {
	case hasAnySuffix(key, "pwr", "Pwr", "Power"):
		return "W"
	case hasAnySuffix(key, "amp", "Amp"):
		return "A"
	case hasAnySuffix(key, "soc", "Soc", "soh", "Soh"):
		return "%"
	case hasAnySuffix(key, "vol", "Vol"):
		return "V"
	case hasAnySuffix(key, "Watth", "Energy"):
		return "Wh"
	case strings.Contains(key, "Generation"):
		return "kWh"
	case strings.HasPrefix(key, "bpTemp"):
		return "°C"
	}
	return ""
}

// descriptions maps known vendor keys to German display labels.
var descriptions = map[string]string{
	"sysLoadPwr": "Hausnetz",
	"sysGridPwr": "Stromnetz",
	"mpptPwr":    "Solarertrag",
	"bpPwr":      "Batterieleistung",
	"bpSoc":      "Ladezustand der Batterie",
	"online":     "Online",
	"systemName": "System Name",
	"createTime": "Installations Datum",
	"bpVol":      "Batteriespannung",
	"bpAmp":      "Batteriestrom",
	"bpCycles":   "Ladezyklen",
	"bpTemp":     "Temperatur der Batteriezellen",
}

// descriptionForKey returns the display label for a vendor key, falling back
// to the raw key when no translation exists.
func descriptionForKey(key string) string {
	if d, ok := descriptions[key]; ok {
		return d
	}
	return key
}
