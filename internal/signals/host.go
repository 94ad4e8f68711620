package signals

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	gnet "github.com/shirou/gopsutil/v3/net"
)

// HostProvider approximates device signals from the local machine, for
// development hosts and simulations that have no real sensor bridge. Motion
// is proxied by CPU load variance; connectivity comes from the active network
// interface. Location and power are reported as unavailable.
type HostProvider struct {
	mu      sync.Mutex
	history []float64 // recent CPU percent samples
	now     func() time.Time
}

const hostHistoryLen = 10

// NewHostProvider creates a provider backed by local machine state.
func NewHostProvider() *HostProvider {
	return &HostProvider{now: time.Now}
}

// Motion reports a pseudo-motion reading derived from CPU load. A busy,
// fluctuating machine reads as "moving"; a quiet one as "still".
func (h *HostProvider) Motion(ctx context.Context) (*MotionReading, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(pcts) == 0 {
		return nil, err
	}

	h.mu.Lock()
	h.history = append(h.history, pcts[0])
	if len(h.history) > hostHistoryLen {
		h.history = h.history[len(h.history)-hostHistoryLen:]
	}
	mean, variance := meanVariance(h.history)
	h.mu.Unlock()

	label := "still"
	if mean > 30 {
		label = "walking"
	}
	return &MotionReading{
		Variance:      variance / 100, // scale to roughly sensor range
		Magnitude:     mean / 100,
		ActivityLabel: label,
		At:            h.now(),
	}, nil
}

// Location is unavailable on a host machine.
func (h *HostProvider) Location(ctx context.Context) (*LocationReading, error) {
	return nil, nil
}

// Connectivity reports the first up, non-loopback interface.
func (h *HostProvider) Connectivity(ctx context.Context) (*ConnectivityReading, error) {
	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Name == "lo" || !hasFlag(iface.Flags, "up") {
			continue
		}
		return &ConnectivityReading{
			NetworkID: iface.Name,
			WiFi:      strings.HasPrefix(iface.Name, "wl"),
			Online:    true,
			At:        h.now(),
		}, nil
	}
	return &ConnectivityReading{Online: false, At: h.now()}, nil
}

// Power is unavailable on a host machine.
func (h *HostProvider) Power(ctx context.Context) (*PowerReading, error) {
	return nil, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, variance
}
