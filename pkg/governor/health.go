package governor

import "github.com/pyroclast-games/chunkengine/pkg/queue"

// HealthSnapshot is the collaborator-reported tick health reading the
// governor reacts to. The core never computes mspt/tps
// itself; it only derives severity from whatever a HealthProvider hands
// it.
type HealthSnapshot struct {
	MSPT float64
	TPS  float64
}

// Thresholds for deriving severity from a snapshot. A vanilla server
// targets 50ms/tick (20 TPS); these follow the same convention the
// wider ecosystem uses for "struggling"/"critical" tick health.
const (
	strugglingMSPT = 55.0
	criticalMSPT   = 100.0
	strugglingTPS  = 18.0
	criticalTPS    = 20.0 * (15.0 / 20.0) // 15 TPS
)

// IsHealthy reports whether the snapshot is within normal bounds.
func (h HealthSnapshot) IsHealthy() bool {
	return !h.IsStruggling() && !h.IsCritical()
}

// IsStruggling reports degraded-but-not-critical tick health.
func (h HealthSnapshot) IsStruggling() bool {
	return !h.IsCritical() && (h.MSPT >= strugglingMSPT || h.TPS <= strugglingTPS)
}

// IsCritical reports severely degraded tick health.
func (h HealthSnapshot) IsCritical() bool {
	return h.MSPT >= criticalMSPT || h.TPS <= criticalTPS
}

// Severity derives the queue's admission-policy input from this snapshot.
func (h HealthSnapshot) Severity() queue.Severity {
	switch {
	case h.IsCritical():
		return queue.Critical
	case h.IsStruggling():
		return queue.Struggling
	default:
		return queue.Healthy
	}
}

// HealthProvider is the collaborator callback the governor polls on
// each adjustment cycle.
type HealthProvider interface {
	Snapshot() HealthSnapshot
}

// HardwareProvider is the collaborator callback supplying the hardware
// profile. Collaborators that don't have their own detection
// can use DetectHardwareProfile directly.
type HardwareProvider interface {
	Profile() HardwareProfile
}

// StaticHealthProvider returns a fixed HealthSnapshot; useful for tests
// and for collaborators without their own tick-health plumbing.
type StaticHealthProvider struct{ Snap HealthSnapshot }

func (p StaticHealthProvider) Snapshot() HealthSnapshot { return p.Snap }

// StaticHardwareProvider returns a fixed HardwareProfile.
type StaticHardwareProvider struct{ Prof HardwareProfile }

func (p StaticHardwareProvider) Profile() HardwareProfile { return p.Prof }
