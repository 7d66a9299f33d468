// Package cooldown computes effective skill cooldowns from a base duration
// and the three reduction attributes, plus any per-skill temporary modifiers.
// All percentage-style attributes use the game's per-10,000 convention
// (a value of 2500 means 25%).
package cooldown

import (
	"math"
	"sort"

	"github.com/pable/combatlog/internal/model"
)

// TempModifier is a per-skill temporary adjustment sourced from the
// temp-attr map: FixedMs adds to the flat reduction, Pct adds to the
// percentage reduction (per-10,000).
type TempModifier struct {
	FixedMs int64
	Pct     int64
}

// Compute applies the cooldown formula:
//  1. reduced = max(0, base − (attr_skill_cd + temp fixed))
//  2. reduced *= (10000 − (attr_skill_cd_pct + temp pct)) / 10000, clamped to ≥ 0
//  3. rate = attr_cd_accelerate_pct / 10000; final = reduced / (1 + rate)
//
// The result is rounded to the nearest integer millisecond. Both temporary
// components fold into their attribute before the formula runs, so the
// outcome depends only on the final temp-attr map, never on the order the
// updates arrived in.
func Compute(baseMs, fixedMs, pct, accelPct int64, mod TempModifier) (finalMs int64, accelRate float64) {
	reduced := float64(baseMs - (fixedMs + mod.FixedMs))
	if reduced < 0 {
		reduced = 0
	}
	p := pct + mod.Pct
	if p < 0 {
		p = 0
	}
	if p > 10000 {
		p = 10000
	}
	reduced *= float64(10000-p) / 10000
	if reduced < 0 {
		reduced = 0
	}
	accelRate = float64(accelPct) / 10000
	final := reduced / (1 + accelRate)
	return int64(math.Round(final)), accelRate
}

// Calculator caches per-skill cooldown state and recomputes every cached
// entry when any of the three reduction attributes or a relevant temp-attr
// changes.
type Calculator struct {
	fixedMs  int64
	pct      int64
	accelPct int64

	tempMods map[uint32]TempModifier
	states   map[uint32]*model.SkillCdState
}

// New returns a Calculator with zeroed attributes.
func New() *Calculator {
	return &Calculator{
		tempMods: make(map[uint32]TempModifier),
		states:   make(map[uint32]*model.SkillCdState),
	}
}

// SetAttributes replaces the three reduction attributes and recomputes all
// cached cooldowns.
func (c *Calculator) SetAttributes(fixedMs, pct, accelPct int64) {
	if c.fixedMs == fixedMs && c.pct == pct && c.accelPct == accelPct {
		return
	}
	c.fixedMs, c.pct, c.accelPct = fixedMs, pct, accelPct
	c.recomputeAll()
}

// SetTempModifier sets (or clears, when zero) the temporary modifier for
// one skill-level-id and recomputes that skill's cached state.
func (c *Calculator) SetTempModifier(skillLevelID uint32, mod TempModifier) {
	if mod == (TempModifier{}) {
		delete(c.tempMods, skillLevelID)
	} else {
		c.tempMods[skillLevelID] = mod
	}
	if st, ok := c.states[skillLevelID]; ok {
		c.recompute(st)
	}
}

// Observe records a raw cooldown observation from the packet stream and
// computes its effective duration.
func (c *Calculator) Observe(upd model.CooldownUpdate, nowLocalMs int64) *model.SkillCdState {
	st, ok := c.states[upd.SkillLevelID]
	if !ok {
		st = &model.SkillCdState{SkillLevelID: upd.SkillLevelID}
		c.states[upd.SkillLevelID] = st
	}
	st.BeginTimeMs = upd.AtMs
	st.RawDurationMs = upd.BaseDurationMs
	st.CdType = upd.CdType
	st.ReceivedAtLocalMs = nowLocalMs
	c.recompute(st)
	return st
}

func (c *Calculator) recompute(st *model.SkillCdState) {
	st.CalculatedDurationMs, st.CdAccelerateRate =
		Compute(st.RawDurationMs, c.fixedMs, c.pct, c.accelPct, c.tempMods[st.SkillLevelID])
	st.ValidCdTimeMs = st.BeginTimeMs + st.CalculatedDurationMs
}

func (c *Calculator) recomputeAll() {
	for _, st := range c.states {
		c.recompute(st)
	}
}

// States returns the cooldown rows for emission, filtered to the monitored
// skill-level-id set. A nil or empty set yields nothing — cooldown updates
// are only interesting to a caller that asked for specific skills.
func (c *Calculator) States(monitored map[uint32]bool) []model.SkillCdRow {
	if len(monitored) == 0 {
		return nil
	}
	out := make([]model.SkillCdRow, 0, len(monitored))
	for id := range monitored {
		st, ok := c.states[id]
		if !ok {
			continue
		}
		out = append(out, model.SkillCdRow{
			SkillLevelID:         st.SkillLevelID,
			BeginTimeMs:          st.BeginTimeMs,
			CalculatedDurationMs: st.CalculatedDurationMs,
			CdAccelerateRate:     st.CdAccelerateRate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillLevelID < out[j].SkillLevelID })
	return out
}

// Reset drops all cached cooldown state and temporary modifiers. The three
// attributes survive — they belong to the player, not the encounter.
func (c *Calculator) Reset() {
	c.tempMods = make(map[uint32]TempModifier)
	c.states = make(map[uint32]*model.SkillCdState)
}
