package types

import "time"

// UserState is the single inferred activity state. Exactly one is active at a
// time; transitions happen only through the stabilization engine.
type UserState string

const (
	StateSleeping   UserState = "sleeping"
	StateDriving    UserState = "driving"
	StateCommuting  UserState = "commuting"
	StateWalking    UserState = "walking"
	StateWorking    UserState = "working"
	StateResting    UserState = "resting"
	StateGymWorkout UserState = "gym_workout"
	StateRunning    UserState = "running"
	StateHomeActive UserState = "home_active"
	StateUnknown    UserState = "unknown"
)

// Environment classifies indoor/outdoor placement.
type Environment string

const (
	EnvIndoor  Environment = "indoor"
	EnvOutdoor Environment = "outdoor"
	EnvUnknown Environment = "unknown"
)

// LocationLabel is a coarse semantic location.
type LocationLabel string

const (
	LocHome     LocationLabel = "home"
	LocWork     LocationLabel = "work"
	LocGym      LocationLabel = "gym"
	LocFrequent LocationLabel = "frequent"
	LocOutside  LocationLabel = "outside"
	LocUnknown  LocationLabel = "unknown"
)

// MovementType is the coarse motion classification.
type MovementType string

const (
	MoveStationary MovementType = "stationary"
	MoveMoving     MovementType = "moving"
	MoveUnknown    MovementType = "unknown"
)

// SignalSource names the signal category that dominated a classification.
type SignalSource string

const (
	SourceSleep        SignalSource = "sleep"
	SourceMotion       SignalSource = "motion"
	SourceLocation     SignalSource = "location"
	SourceConnectivity SignalSource = "connectivity"
	SourcePower        SignalSource = "power"
	SourceNone         SignalSource = "none"
)

// ContextSnapshot is the committed, stabilized understanding of what the user
// is doing right now.
type ContextSnapshot struct {
	State         UserState     `json:"state"`
	Environment   Environment   `json:"environment"`
	EnvConfidence float64       `json:"env_confidence"` // 0.0-1.0
	Location      LocationLabel `json:"location"`
	Movement      MovementType  `json:"movement"`
	Source        SignalSource  `json:"source"`
	Confidence    float64       `json:"confidence"` // 0.0-1.0
	UpdatedAt     time.Time     `json:"updated_at"`
}

// EventCategory names a behavioral event fed to the trigger accumulator.
type EventCategory string

const (
	EventItemCompleted  EventCategory = "item_completed"
	EventItemSkipped    EventCategory = "item_skipped"
	EventExtraCalories  EventCategory = "extra_calories"
	EventNapEnded       EventCategory = "nap_ended"
	EventUnexpectedMeal EventCategory = "unexpected_meal"
	EventContextChange  EventCategory = "context_change"
	EventWakeDetected   EventCategory = "wake_detected"
)

// Priority orders refinement requests. Lower value = more important.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Dependency keys for the circuit breaker registry. Each external
// collaborator gets its own breaker so one failing dependency cannot starve
// unrelated work.
type Dependency string

const (
	DepInference Dependency = "inference"
	DepStore     Dependency = "store"
	DepPlatform  Dependency = "platform"
	DepNetwork   Dependency = "network"
)

// RefinementRequest is a pending request to run the downstream plan
// refinement job.
type RefinementRequest struct {
	ID          string        `json:"id"`
	Priority    Priority      `json:"priority"`
	Reason      string        `json:"reason"`
	Category    EventCategory `json:"category"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Job is one unit of work handed to the external job runner.
type Job struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Priority Priority       `json:"priority"`
	Payload  map[string]any `json:"payload,omitempty"`
}
