// Package buff tracks active buff instances keyed by their server-assigned
// instance UUID, and produces the ordered, filtered buff-update payload.
//
// Buff create times arrive in the server's clock domain. The tracker
// captures a single local−server offset on the first Add it sees and uses
// it to translate timestamps at emission time; it never attempts any
// NTP-style continuous adjustment.
package buff

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/pable/combatlog/internal/model"
)

// RelatedBaseID derives a buff base-id from a source-config id, used as a
// third way into the monitored set. The default treats the source-config
// id as the base-id itself; the game client can inject the real mapping.
type RelatedBaseID func(sourceConfigID uint32) uint32

// Tracker owns the active-buff map for one encounter.
type Tracker struct {
	active  map[uuid.UUID]*model.ActiveBuff
	ownerOf map[uuid.UUID]uint64

	// Related maps source_config_id to a base-id for emission filtering.
	Related RelatedBaseID

	clockOffsetMs int64
	offsetKnown   bool
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		active:  make(map[uuid.UUID]*model.ActiveBuff),
		ownerOf: make(map[uuid.UUID]uint64),
		Related: func(id uint32) uint32 { return id },
	}
}

// Apply consumes one decoded buff event. Change events for an unknown uuid
// are ignored; Remove for an unknown uuid is a no-op.
func (t *Tracker) Apply(ev model.BuffEvent, nowLocalMs int64) {
	id := uuid.UUID(ev.BuffUUID)
	switch ev.Kind {
	case model.BuffAdd:
		if !t.offsetKnown && ev.CreateTimeMs != 0 {
			t.clockOffsetMs = nowLocalMs - ev.CreateTimeMs
			t.offsetKnown = true
		}
		t.active[id] = &model.ActiveBuff{
			BuffUUID:       id,
			BaseID:         ev.BaseID,
			Layer:          ev.Layer,
			DurationMs:     ev.DurationMs,
			CreateTimeMs:   ev.CreateTimeMs,
			SourceConfigID: ev.SourceConfigID,
		}
		t.ownerOf[id] = ev.EntityID
	case model.BuffChange:
		b, ok := t.active[id]
		if !ok {
			return
		}
		b.Layer = ev.Layer
		b.DurationMs = ev.DurationMs
		b.CreateTimeMs = ev.CreateTimeMs
	case model.BuffRemove:
		delete(t.active, id)
		delete(t.ownerOf, id)
	}
}

// ClockOffsetMs returns the captured local−server offset (0 until the
// first Add).
func (t *Tracker) ClockOffsetMs() int64 { return t.clockOffsetMs }

// Emit builds the ordered buff-update rows. A buff passes the filter when
// its base-id is monitored, when monitorAll is set, or when the base-id
// derived from its source-config id is monitored. Rows are ordered by
// (priority index, base-id, create time, uuid); buffs without a priority
// entry sort after all prioritized ones.
func (t *Tracker) Emit(monitored map[uint32]bool, monitorAll bool, priority map[uint32]int) []model.BuffRow {
	rows := make([]model.BuffRow, 0, len(t.active))
	for id, b := range t.active {
		if !monitorAll && !monitored[b.BaseID] && !monitored[t.Related(b.SourceConfigID)] {
			continue
		}
		rows = append(rows, model.BuffRow{
			BuffUUID:     id,
			BaseID:       b.BaseID,
			Layer:        b.Layer,
			DurationMs:   b.DurationMs,
			CreateTimeMs: b.CreateTimeMs + t.clockOffsetMs,
			EntityID:     t.ownerOf[id],
		})
	}
	prio := func(baseID uint32) int {
		if p, ok := priority[baseID]; ok {
			return p
		}
		return math.MaxInt
	}
	sort.Slice(rows, func(i, j int) bool {
		pi, pj := prio(rows[i].BaseID), prio(rows[j].BaseID)
		if pi != pj {
			return pi < pj
		}
		if rows[i].BaseID != rows[j].BaseID {
			return rows[i].BaseID < rows[j].BaseID
		}
		if rows[i].CreateTimeMs != rows[j].CreateTimeMs {
			return rows[i].CreateTimeMs < rows[j].CreateTimeMs
		}
		return rows[i].BuffUUID.String() < rows[j].BuffUUID.String()
	})
	return rows
}

// ActiveBaseIDs returns the set of base-ids currently applied to the given
// entity — the Battle State Machine's wipe check reads this.
func (t *Tracker) ActiveBaseIDs(entityID uint64) map[uint32]bool {
	out := make(map[uint32]bool)
	for id, b := range t.active {
		if t.ownerOf[id] == entityID {
			out[b.BaseID] = true
		}
	}
	return out
}

// Len returns the number of active buff instances.
func (t *Tracker) Len() int { return len(t.active) }

// Reset drops all active buffs. The clock offset survives: it is a session
// property, not an encounter one.
func (t *Tracker) Reset() {
	t.active = make(map[uuid.UUID]*model.ActiveBuff)
	t.ownerOf = make(map[uuid.UUID]uint64)
}
