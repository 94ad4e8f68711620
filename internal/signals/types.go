package signals

import (
	"time"

	"github.com/halfmoonlabs/vita/internal/types"
)

// MotionReading is one point-in-time motion sample.
type MotionReading struct {
	Variance      float64   `json:"variance"`  // short-window accelerometer variance
	Magnitude     float64   `json:"magnitude"` // mean acceleration magnitude
	ActivityLabel string    `json:"activity_label,omitempty"` // platform activity hint (still, walking, in_vehicle, ...)
	At            time.Time `json:"at"`
}

// LocationReading is one GPS/geofence sample.
type LocationReading struct {
	Latitude  float64             `json:"lat"`
	Longitude float64             `json:"lon"`
	AccuracyM float64             `json:"accuracy_m"`
	SpeedMPS  float64             `json:"speed_mps"`
	Label     types.LocationLabel `json:"label"` // resolved against known places by the provider
	At        time.Time           `json:"at"`
}

// ConnectivityReading identifies the current network attachment.
type ConnectivityReading struct {
	NetworkID string    `json:"network_id,omitempty"` // Wi-Fi SSID hash or interface name
	WiFi      bool      `json:"wifi"`
	Online    bool      `json:"online"`
	At        time.Time `json:"at"`
}

// PowerReading is the device power/screen state.
type PowerReading struct {
	Charging       bool      `json:"charging"`
	ScreenOn       bool      `json:"screen_on"`
	BatteryPercent float64   `json:"battery_percent"`
	At             time.Time `json:"at"`
}

// Snapshot is the raw fused readings for one poll tick. It is ephemeral:
// owned by a single poll cycle and never persisted.
type Snapshot struct {
	Motion       *MotionReading
	Location     *LocationReading
	Connectivity *ConnectivityReading
	Power        *PowerReading

	TakenAt time.Time
	Hour    int
	Weekday time.Weekday
}

// Categories returns how many signal categories are present.
func (s *Snapshot) Categories() int {
	n := 0
	if s.Motion != nil {
		n++
	}
	if s.Location != nil {
		n++
	}
	if s.Connectivity != nil {
		n++
	}
	if s.Power != nil {
		n++
	}
	return n
}

// Freshness returns 1.0 for a reading taken now, decaying linearly to 0.0 at
// maxAge. Missing timestamps count as stale.
func Freshness(at, now time.Time, maxAge time.Duration) float64 {
	if at.IsZero() || maxAge <= 0 {
		return 0
	}
	age := now.Sub(at)
	if age < 0 {
		age = 0
	}
	if age >= maxAge {
		return 0
	}
	return 1 - float64(age)/float64(maxAge)
}
