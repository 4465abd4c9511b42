// Package telemetry produces the vehicle telemetry stream: live samples from
// the OBD bridge when they are available, simulated ones otherwise, fanned
// out to any number of dashboard subscribers.
package telemetry

import (
	"encoding/json"
	"math"
	"time"
)

// Reading is one telemetry sample. Absent sensors are nil.
// Readings are shared between subscribers and must not be modified.
type Reading struct {
	Timestamp   time.Time
	Seq         uint64
	RPM         *float64
	Speed       *float64
	CoolantTemp *float64
	ThrottlePos *float64
	IntakeTemp  *float64
	Voltage     *float64
	Simulated   bool
}

// wireReading uses the OBD PID names and a unix timestamp in seconds, which is
// what both the bridge and the dashboard speak.
type wireReading struct {
	Timestamp   float64  `json:"timestamp"`
	Seq         uint64   `json:"seq,omitempty"`
	RPM         *float64 `json:"RPM,omitempty"`
	Speed       *float64 `json:"SPEED,omitempty"`
	CoolantTemp *float64 `json:"COOLANT_TEMP,omitempty"`
	ThrottlePos *float64 `json:"THROTTLE_POS,omitempty"`
	IntakeTemp  *float64 `json:"INTAKE_TEMP,omitempty"`
	Voltage     *float64 `json:"ELM_VOLTAGE,omitempty"`
	Simulated   bool     `json:"simulated"`
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReading{
		Timestamp:   UnixSeconds(r.Timestamp),
		Seq:         r.Seq,
		RPM:         r.RPM,
		Speed:       r.Speed,
		CoolantTemp: r.CoolantTemp,
		ThrottlePos: r.ThrottlePos,
		IntakeTemp:  r.IntakeTemp,
		Voltage:     r.Voltage,
		Simulated:   r.Simulated,
	})
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Reading{
		Seq:         w.Seq,
		RPM:         w.RPM,
		Speed:       w.Speed,
		CoolantTemp: w.CoolantTemp,
		ThrottlePos: w.ThrottlePos,
		IntakeTemp:  w.IntakeTemp,
		Voltage:     w.Voltage,
		Simulated:   w.Simulated,
	}
	if w.Timestamp > 0 {
		sec, frac := math.Modf(w.Timestamp)
		r.Timestamp = time.Unix(int64(sec), int64(frac*1e9))
	}
	return nil
}

// Empty reports whether the reading carries no sensor value at all.
func (r Reading) Empty() bool {
	return r.RPM == nil && r.Speed == nil && r.CoolantTemp == nil &&
		r.ThrottlePos == nil && r.IntakeTemp == nil && r.Voltage == nil
}

// UnixSeconds renders t as fractional seconds since the epoch. The zero time is 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
