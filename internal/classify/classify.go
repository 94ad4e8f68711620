// Package classify turns one tick's raw signal snapshot into a candidate
// context state. Output here is raw: it only becomes the committed snapshot
// after the stabilization engine agrees.
package classify

import (
	"time"

	"github.com/halfmoonlabs/vita/internal/signals"
	"github.com/halfmoonlabs/vita/internal/types"
)

// Config holds classification thresholds. Values are empirical, not tuned
// per user.
type Config struct {
	DrivingSpeedMPS   float64       // GPS speed above which we assume a vehicle
	TransitSpeedMPS   float64       // speed above walking pace but below driving
	RunningSpeedMPS   float64
	StationaryVar     float64       // motion variance below which we call it stationary
	MovingVar         float64       // motion variance above which we call it moving
	SignalMaxAge      time.Duration // freshness horizon for readings
	MinPollDelay      time.Duration
	MaxPollDelay      time.Duration
	NightStartHour    int // hours treated as plausible sleep time
	NightEndHour      int
	HysteresisBonus   float64 // confidence bonus when state matches the committed one
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DrivingSpeedMPS: 10,
		TransitSpeedMPS: 4,
		RunningSpeedMPS: 2.2,
		StationaryVar:   0.05,
		MovingVar:       0.3,
		SignalMaxAge:    5 * time.Minute,
		MinPollDelay:    30 * time.Second,
		MaxPollDelay:    5 * time.Minute,
		NightStartHour:  22,
		NightEndHour:    7,
		HysteresisBonus: 0.1,
	}
}

// Result is one raw classification plus the recommended delay until the next
// poll.
type Result struct {
	State         types.UserState
	Environment   types.Environment
	EnvConfidence float64
	Location      types.LocationLabel
	Movement      types.MovementType
	Source        types.SignalSource
	Confidence    float64
	NextPollDelay time.Duration
}

// Classifier applies deterministic, priority-ordered rules. First rule with
// sufficient signal wins.
type Classifier struct {
	cfg Config
}

// New creates a classifier with the given config.
func New(cfg Config) *Classifier {
	if cfg.MinPollDelay <= 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// Classify fuses a snapshot into a raw state. prev is the last committed
// snapshot (nil on first run) and is used only for hysteresis. sleepOverride
// comes from the external sleep-detection collaborator and wins outright.
func (c *Classifier) Classify(snap *signals.Snapshot, prev *types.ContextSnapshot, sleepOverride bool) Result {
	movement := c.movement(snap)
	location := c.location(snap)
	env, envConf := c.environment(snap, location)

	res := Result{
		Environment:   env,
		EnvConfidence: envConf,
		Location:      location,
		Movement:      movement,
	}

	switch {
	case sleepOverride:
		res.State = types.StateSleeping
		res.Source = types.SourceSleep
		res.Confidence = 0.95

	case c.isDriving(snap):
		res.State = types.StateDriving
		res.Source = types.SourceMotion
		res.Confidence = 0.8

	case c.isCommuting(snap):
		res.State = types.StateCommuting
		res.Source = types.SourceMotion
		res.Confidence = 0.7

	case c.isRunning(snap):
		res.State = types.StateRunning
		res.Source = types.SourceMotion
		res.Confidence = 0.75

	case movement == types.MoveMoving && location == types.LocGym:
		res.State = types.StateGymWorkout
		res.Source = types.SourceLocation
		res.Confidence = 0.75

	case c.isWalking(snap, movement):
		res.State = types.StateWalking
		res.Source = types.SourceMotion
		res.Confidence = 0.65

	case movement == types.MoveStationary && location == types.LocGym:
		res.State = types.StateGymWorkout
		res.Source = types.SourceLocation
		res.Confidence = 0.6

	case movement == types.MoveStationary && location == types.LocWork:
		res.State = types.StateWorking
		res.Source = types.SourceLocation
		res.Confidence = 0.7

	case movement == types.MoveStationary && location == types.LocHome:
		if c.looksAsleep(snap) {
			if c.isNight(snap.Hour) {
				res.State = types.StateSleeping
			} else {
				res.State = types.StateResting
			}
			res.Source = types.SourcePower
			res.Confidence = 0.65
		} else {
			res.State = types.StateHomeActive
			res.Source = types.SourceLocation
			res.Confidence = 0.6
		}

	case movement == types.MoveStationary && c.looksAsleep(snap):
		// No location fix, but screen-off + charging + no motion is a strong
		// rest signal regardless of where the device is.
		if c.isNight(snap.Hour) {
			res.State = types.StateSleeping
		} else {
			res.State = types.StateResting
		}
		res.Source = types.SourcePower
		res.Confidence = 0.55

	default:
		res.State = types.StateUnknown
		res.Source = types.SourceNone
		res.Confidence = 0.2
	}

	res.Confidence = res.Confidence * c.freshnessFactor(snap)
	res.Confidence += c.agreementBonus(snap, res.State)
	if prev != nil && prev.State == res.State {
		res.Confidence += c.cfg.HysteresisBonus
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}

	res.NextPollDelay = c.pollDelay(res, prev)
	return res
}

func (c *Classifier) movement(snap *signals.Snapshot) types.MovementType {
	if snap.Location != nil && snap.Location.SpeedMPS >= c.cfg.RunningSpeedMPS {
		return types.MoveMoving
	}
	if snap.Motion == nil {
		return types.MoveUnknown
	}
	switch {
	case snap.Motion.Variance >= c.cfg.MovingVar:
		return types.MoveMoving
	case snap.Motion.Variance <= c.cfg.StationaryVar:
		return types.MoveStationary
	default:
		return types.MoveUnknown
	}
}

func (c *Classifier) location(snap *signals.Snapshot) types.LocationLabel {
	if snap.Location == nil {
		return types.LocUnknown
	}
	if snap.Location.Label == "" {
		return types.LocUnknown
	}
	return snap.Location.Label
}

func (c *Classifier) environment(snap *signals.Snapshot, loc types.LocationLabel) (types.Environment, float64) {
	switch loc {
	case types.LocHome, types.LocWork, types.LocGym:
		return types.EnvIndoor, 0.8
	case types.LocOutside:
		return types.EnvOutdoor, 0.7
	}
	// Wi-Fi attachment is a weak indoor hint.
	if snap.Connectivity != nil && snap.Connectivity.WiFi {
		return types.EnvIndoor, 0.5
	}
	return types.EnvUnknown, 0.2
}

func (c *Classifier) isDriving(snap *signals.Snapshot) bool {
	if snap.Location != nil && snap.Location.SpeedMPS >= c.cfg.DrivingSpeedMPS {
		return true
	}
	return snap.Motion != nil && snap.Motion.ActivityLabel == "in_vehicle"
}

func (c *Classifier) isCommuting(snap *signals.Snapshot) bool {
	if snap.Location == nil {
		return false
	}
	return snap.Location.SpeedMPS >= c.cfg.TransitSpeedMPS &&
		snap.Location.SpeedMPS < c.cfg.DrivingSpeedMPS
}

func (c *Classifier) isRunning(snap *signals.Snapshot) bool {
	if snap.Motion != nil && snap.Motion.ActivityLabel == "running" {
		return true
	}
	return snap.Location != nil && snap.Motion != nil &&
		snap.Location.SpeedMPS >= c.cfg.RunningSpeedMPS &&
		snap.Motion.Variance >= c.cfg.MovingVar
}

func (c *Classifier) isWalking(snap *signals.Snapshot, movement types.MovementType) bool {
	if snap.Motion != nil && snap.Motion.ActivityLabel == "walking" {
		return true
	}
	return movement == types.MoveMoving
}

// looksAsleep checks the power signal for the screen-off-and-charging pattern
// that usually means the phone is on a nightstand.
func (c *Classifier) looksAsleep(snap *signals.Snapshot) bool {
	if snap.Power == nil || snap.Motion == nil {
		return false
	}
	return !snap.Power.ScreenOn && snap.Power.Charging &&
		snap.Motion.Variance <= c.cfg.StationaryVar
}

func (c *Classifier) isNight(hour int) bool {
	return hour >= c.cfg.NightStartHour || hour < c.cfg.NightEndHour
}

// freshnessFactor scales confidence by how current the contributing readings
// are. No readings at all floors at 0.5 so the unknown fallback still carries
// some weight.
func (c *Classifier) freshnessFactor(snap *signals.Snapshot) float64 {
	var sum float64
	var n int
	if snap.Motion != nil {
		sum += signals.Freshness(snap.Motion.At, snap.TakenAt, c.cfg.SignalMaxAge)
		n++
	}
	if snap.Location != nil {
		sum += signals.Freshness(snap.Location.At, snap.TakenAt, c.cfg.SignalMaxAge)
		n++
	}
	if snap.Connectivity != nil {
		sum += signals.Freshness(snap.Connectivity.At, snap.TakenAt, c.cfg.SignalMaxAge)
		n++
	}
	if snap.Power != nil {
		sum += signals.Freshness(snap.Power.At, snap.TakenAt, c.cfg.SignalMaxAge)
		n++
	}
	if n == 0 {
		return 0.5
	}
	f := sum / float64(n)
	if f < 0.3 {
		f = 0.3
	}
	return f
}

// agreementBonus adds confidence when independent categories tell the same
// story (e.g. motion says moving and GPS speed agrees).
func (c *Classifier) agreementBonus(snap *signals.Snapshot, state types.UserState) float64 {
	bonus := 0.0
	moving := state == types.StateDriving || state == types.StateCommuting ||
		state == types.StateRunning || state == types.StateWalking
	if moving && snap.Motion != nil && snap.Location != nil &&
		snap.Motion.Variance >= c.cfg.MovingVar && snap.Location.SpeedMPS >= c.cfg.RunningSpeedMPS {
		bonus += 0.1
	}
	if !moving && snap.Motion != nil && snap.Connectivity != nil &&
		snap.Motion.Variance <= c.cfg.StationaryVar && snap.Connectivity.WiFi {
		bonus += 0.05
	}
	return bonus
}

// pollDelay widens the interval when we are confident and the state is
// static, and tightens it when confidence is low or the state just moved.
func (c *Classifier) pollDelay(res Result, prev *types.ContextSnapshot) time.Duration {
	span := c.cfg.MaxPollDelay - c.cfg.MinPollDelay
	delay := c.cfg.MinPollDelay + time.Duration(res.Confidence*float64(span))
	if prev == nil || prev.State != res.State {
		delay = delay / 2
	}
	if res.State == types.StateSleeping {
		// Sleep is long-lived; no point burning battery on tight polls.
		delay = c.cfg.MaxPollDelay
	}
	if delay < c.cfg.MinPollDelay {
		delay = c.cfg.MinPollDelay
	}
	if delay > c.cfg.MaxPollDelay {
		delay = c.cfg.MaxPollDelay
	}
	return delay
}
