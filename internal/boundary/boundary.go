// Package boundary infers boss deaths from HP readings and team damage
// output. The server never sends an explicit "boss dead" packet in the
// telemetry stream, so a boss is promoted to dead once it has dwelled
// under the low-HP threshold for the dwell window while the team is
// actually still hitting things.
package boundary

// Thresholds for the boss-death heuristic: a boss under LowHPPercent for
// DwellMs while the team sustains at least MinTeamDPS is dead.
const (
	LowHPPercent = 5.0
	DwellMs      = 5_000
	MinTeamDPS   = 5_000.0
)

// BossTick is one boss's HP reading at a snapshot tick.
type BossTick struct {
	EntityID  uint64
	Name      string
	CurrentHP int64
	MaxHP     int64
}

// Death is one first-time boss-death promotion.
type Death struct {
	EntityID uint64
	Name     string
}

// Detector keeps the per-boss dwell timers and the already-promoted set
// for the current encounter.
type Detector struct {
	dwellSince map[uint64]int64
	dead       map[uint64]bool
}

// New returns an empty Detector.
func New() *Detector {
	return &Detector{
		dwellSince: make(map[uint64]int64),
		dead:       make(map[uint64]bool),
	}
}

// Tick evaluates the heuristic for every boss at nowMs, given the team's
// current scope DPS. It returns the bosses promoted to dead this tick;
// duplicates are suppressed across the encounter. A boss recovering above
// the threshold clears its dwell timer.
func (d *Detector) Tick(nowMs int64, bosses []BossTick, teamDPS float64) []Death {
	var deaths []Death
	for _, b := range bosses {
		if d.dead[b.EntityID] || b.MaxHP <= 0 {
			continue
		}
		hpPercent := float64(b.CurrentHP) / float64(b.MaxHP) * 100
		if hpPercent >= LowHPPercent || teamDPS < MinTeamDPS {
			if hpPercent >= LowHPPercent {
				delete(d.dwellSince, b.EntityID)
			}
			continue
		}
		since, ok := d.dwellSince[b.EntityID]
		if !ok {
			d.dwellSince[b.EntityID] = nowMs
			continue
		}
		if nowMs-since >= DwellMs {
			d.dead[b.EntityID] = true
			delete(d.dwellSince, b.EntityID)
			deaths = append(deaths, Death{EntityID: b.EntityID, Name: b.Name})
		}
	}
	return deaths
}

// IsDead reports whether the boss was already promoted this encounter;
// the snapshot builder pins its HP to 0 once true.
func (d *Detector) IsDead(entityID uint64) bool {
	return d.dead[entityID]
}

// Reset clears all dwell timers and promotions for a new encounter.
func (d *Detector) Reset() {
	d.dwellSince = make(map[uint64]int64)
	d.dead = make(map[uint64]bool)
}
