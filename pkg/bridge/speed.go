package bridge

import "time"

// SpeedProfile maps a radio modulation speed code to the minimum spacing
// between consecutive frame transmissions. The pacing is advisory: it keeps
// the radio from congesting itself, the radio does not enforce it.
type SpeedProfile struct {
	// Preset is the LoRa modem preset the code corresponds to.
	Preset string
	// Delay is the per-packet transmission budget.
	Delay time.Duration
}

var speedProfiles = map[int]SpeedProfile{
	8: {Preset: "ShortTurbo", Delay: 400 * time.Millisecond},
	7: {Preset: "LongModerate", Delay: 12 * time.Second},
	6: {Preset: "ShortFast", Delay: time.Second},
	5: {Preset: "ShortSlow", Delay: 3 * time.Second},
	4: {Preset: "MediumFast", Delay: 4 * time.Second},
	3: {Preset: "MediumSlow", Delay: 6 * time.Second},
	1: {Preset: "LongSlow", Delay: 15 * time.Second},
	0: {Preset: "LongFast", Delay: 8 * time.Second},
}

// DelayFor returns the transmission delay budget for a speed code, or
// ErrUnknownSpeedProfile for codes outside the table. Callers that cannot
// fail should fall back to SlowestDelay instead of propagating.
func DelayFor(code int) (time.Duration, error) {
	profile, ok := speedProfiles[code]
	if !ok {
		return 0, ErrUnknownSpeedProfile
	}
	return profile.Delay, nil
}

// PresetFor returns the modem preset name for a speed code.
func PresetFor(code int) (string, bool) {
	profile, ok := speedProfiles[code]
	return profile.Preset, ok
}

// SlowestDelay returns the most conservative delay in the table, used as
// the fallback when a configured speed code is unknown at a point where
// failing is not an option.
func SlowestDelay() time.Duration {
	var slowest time.Duration
	for _, profile := range speedProfiles {
		if profile.Delay > slowest {
			slowest = profile.Delay
		}
	}
	return slowest
}
