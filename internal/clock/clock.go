// Package clock centralizes "now" and the IST/UTC conversions the round
// lifecycle depends on, so tests can substitute a fixed instant instead of
// racing the wall clock (the teacher's pattern of an injectable dependency
// in place of scattered time.Now() calls).
package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// IST is UTC+5:30, India Standard Time. Business time is always rendered
// in IST; storage is always UTC.
var IST = time.FixedZone("IST", 5*3600+30*60)

// RoundDuration is the fixed length of every round.
const RoundDuration = 5 * time.Minute

// GameIDLayout formats/parses a Round's game_id: IST start time as
// YYYYMMDDHHMM.
const GameIDLayout = "200601021504"

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Clock is a source of "now", substitutable in tests.
type Clock interface {
	NowUTC() time.Time
}

// Real is the production Clock, backed by time.Now().
type Real struct{}

// NowUTC returns the current instant in UTC.
func (Real) NowUTC() time.Time { return time.Now().UTC() }

// Fixed is a Clock that always returns the same instant; used by tests to
// drive the round lifecycle deterministically.
type Fixed struct {
	At time.Time
}

// NowUTC returns the fixed instant.
func (f Fixed) NowUTC() time.Time { return f.At.UTC() }

// ToIST converts a UTC instant to its IST wall-clock representation.
func ToIST(utc time.Time) time.Time {
	return utc.In(IST)
}

// ToUTC converts an IST wall-clock instant to UTC.
func ToUTC(ist time.Time) time.Time {
	return ist.UTC()
}

// FormatIST renders t (any timezone) in IST using the given layout.
func FormatIST(t time.Time, layout string) string {
	return t.In(IST).Format(layout)
}

// ParseHHMM parses a "HH:MM" string into hour and minute components.
// It rejects anything that does not match the strict 24-hour pattern.
func ParseHHMM(s string) (hour, minute int, err error) {
	if !hhmmPattern.MatchString(s) {
		return 0, 0, fmt.Errorf("clock: invalid HH:MM value %q", s)
	}
	hour, _ = strconv.Atoi(s[0:2])
	minute, _ = strconv.Atoi(s[3:5])
	return hour, minute, nil
}

// GameID formats the IST start time of a round as its unique game_id.
func GameID(startUTC time.Time) string {
	return FormatIST(startUTC, GameIDLayout)
}

// NextBoundary returns the next 5-minute boundary strictly after now, in
// UTC. Rounds always start on these boundaries.
func NextBoundary(now time.Time) time.Time {
	now = now.UTC()
	truncated := now.Truncate(RoundDuration)
	if !truncated.After(now) {
		truncated = truncated.Add(RoundDuration)
	}
	return truncated
}

// WithinDailyWindow reports whether the IST wall-clock time of instant t
// falls within [startHHMM, endHHMM).
func WithinDailyWindow(t time.Time, startHHMM, endHHMM string) (bool, error) {
	sh, sm, err := ParseHHMM(startHHMM)
	if err != nil {
		return false, err
	}
	eh, em, err := ParseHHMM(endHHMM)
	if err != nil {
		return false, err
	}
	ist := ToIST(t)
	minutesOfDay := ist.Hour()*60 + ist.Minute()
	start := sh*60 + sm
	end := eh*60 + em
	if start <= end {
		return minutesOfDay >= start && minutesOfDay < end, nil
	}
	// Window wraps past midnight.
	return minutesOfDay >= start || minutesOfDay < end, nil
}
