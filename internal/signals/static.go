package signals

import (
	"context"
	"sync"
)

// StaticProvider returns fixed readings set by tests or simulations. Any
// unset category reads as unavailable.
type StaticProvider struct {
	mu           sync.RWMutex
	motion       *MotionReading
	location     *LocationReading
	connectivity *ConnectivityReading
	power        *PowerReading
	sleeping     bool
}

// NewStatic creates an empty static provider.
func NewStatic() *StaticProvider {
	return &StaticProvider{}
}

func (s *StaticProvider) SetMotion(r *MotionReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion = r
}

func (s *StaticProvider) SetLocation(r *LocationReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = r
}

func (s *StaticProvider) SetConnectivity(r *ConnectivityReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectivity = r
}

func (s *StaticProvider) SetPower(r *PowerReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power = r
}

// SetSleeping controls the InSleepSession answer, letting one static
// provider double as a SleepProvider in tests.
func (s *StaticProvider) SetSleeping(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeping = v
}

func (s *StaticProvider) Motion(context.Context) (*MotionReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.motion, nil
}

func (s *StaticProvider) Location(context.Context) (*LocationReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location, nil
}

func (s *StaticProvider) Connectivity(context.Context) (*ConnectivityReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectivity, nil
}

func (s *StaticProvider) Power(context.Context) (*PowerReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.power, nil
}

func (s *StaticProvider) InSleepSession(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sleeping, nil
}
