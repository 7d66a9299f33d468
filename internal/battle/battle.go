// Package battle consumes dungeon-state packets and decides when the
// current encounter must be reset: a new objective, a terminal dungeon
// state, an expired deferred call, or a full-party wipe.
package battle

import "github.com/pable/combatlog/internal/model"

// ResetReason names why the state machine wants the encounter reset. The
// aggregator treats the value as opaque apart from logging it.
type ResetReason int

const (
	ResetNone ResetReason = iota
	ResetNewObjective
	ResetDungeonStateEnd
	ResetRestart
	ResetForce
	ResetWipe
)

// String renders the reason for logging.
func (r ResetReason) String() string {
	switch r {
	case ResetNewObjective:
		return "new-objective"
	case ResetDungeonStateEnd:
		return "dungeon-state-end"
	case ResetRestart:
		return "restart"
	case ResetForce:
		return "force"
	case ResetWipe:
		return "wipe"
	default:
		return "none"
	}
}

// wipeCombatWindowMs bounds how recently combat must have flowed for a
// simultaneous all-downed state to count as a wipe rather than a stale
// post-fight lull.
const wipeCombatWindowMs = 10_000

// deferredCall is a reset scheduled for a future timestamp, recorded by
// ScheduleDeferred; the aggregator's packet handlers do not call it.
type deferredCall struct {
	dueMs  int64
	reason ResetReason
}

// Machine is the battle state machine. The two predicates are injected
// because their real value sets live in server-side constants this module
// never sees: IsEndState decides which dungeon-state values are terminal,
// and IsDownedBuff classifies buff base-ids for the wipe heuristic.
type Machine struct {
	IsEndState   func(model.DungeonState) bool
	IsDownedBuff func(baseID uint32) bool

	objectiveID  uint32
	hasObjective bool
	state        model.DungeonState
	deferred     []deferredCall
	wipeFired    bool
}

// New returns a Machine with conservative defaults: no dungeon state is
// terminal and no buff counts as downed until the caller supplies the
// real predicates.
func New() *Machine {
	return &Machine{
		IsEndState:   func(model.DungeonState) bool { return false },
		IsDownedBuff: func(uint32) bool { return false },
	}
}

// ApplyDungeonData consumes a full dungeon-state packet. hasCombat tells
// the machine whether the current encounter has seen any combat; objective
// and end-state transitions only matter for a live fight.
func (m *Machine) ApplyDungeonData(p model.SyncDungeonData, hasCombat bool) ResetReason {
	return m.apply(p.ObjectiveID, true, p.State, true, hasCombat)
}

// ApplyDirtyData consumes an incremental dungeon-state packet where either
// field may be absent.
func (m *Machine) ApplyDirtyData(p model.SyncDungeonDirtyData, hasCombat bool) ResetReason {
	var obj uint32
	hasObj := p.ObjectiveID != nil
	if hasObj {
		obj = *p.ObjectiveID
	}
	var st model.DungeonState
	hasState := p.State != nil
	if hasState {
		st = *p.State
	}
	return m.apply(obj, hasObj, st, hasState, hasCombat)
}

func (m *Machine) apply(obj uint32, hasObj bool, st model.DungeonState, hasState bool, hasCombat bool) ResetReason {
	reason := ResetNone
	if hasObj {
		if m.hasObjective && obj != m.objectiveID && hasCombat {
			reason = ResetNewObjective
		}
		m.objectiveID = obj
		m.hasObjective = true
	}
	if hasState {
		prev := m.state
		m.state = st
		if st != prev && m.IsEndState(st) && hasCombat && reason == ResetNone {
			reason = ResetDungeonStateEnd
		}
	}
	return reason
}

// ScheduleDeferred records a reset to fire once dueMs has passed. The
// reason must be ResetRestart or ResetForce.
func (m *Machine) ScheduleDeferred(dueMs int64, reason ResetReason) {
	m.deferred = append(m.deferred, deferredCall{dueMs: dueMs, reason: reason})
}

// CheckDeferredCalls pops the first deferred entry whose scheduled time
// has passed, returning its recorded reason.
func (m *Machine) CheckDeferredCalls(nowMs int64) ResetReason {
	for i, d := range m.deferred {
		if nowMs >= d.dueMs {
			m.deferred = append(m.deferred[:i], m.deferred[i+1:]...)
			return d.reason
		}
	}
	return ResetNone
}

// CheckForWipe yields ResetWipe when every character entity carries a
// downed buff simultaneously and combat has flowed within the recent
// window. buffsByEntity maps each character entity to its active buff
// base-ids. The wipe fires once; it re-arms on Reset.
func (m *Machine) CheckForWipe(buffsByEntity map[uint64]map[uint32]bool, nowMs, lastCombatMs int64) ResetReason {
	if m.wipeFired || len(buffsByEntity) == 0 {
		return ResetNone
	}
	if lastCombatMs == 0 || nowMs-lastCombatMs > wipeCombatWindowMs {
		return ResetNone
	}
	for _, buffs := range buffsByEntity {
		downed := false
		for baseID := range buffs {
			if m.IsDownedBuff(baseID) {
				downed = true
				break
			}
		}
		if !downed {
			return ResetNone
		}
	}
	m.wipeFired = true
	return ResetWipe
}

// Reset reinitializes the machine: objective and state forgotten, deferred
// calls dropped, wipe re-armed. Called on server change and manual reset.
func (m *Machine) Reset() {
	m.objectiveID = 0
	m.hasObjective = false
	m.state = 0
	m.deferred = nil
	m.wipeFired = false
}

// RearmWipe re-arms only the wipe latch, for automatic (non-manual)
// encounter resets that keep the rest of the dungeon context.
func (m *Machine) RearmWipe() {
	m.wipeFired = false
}
