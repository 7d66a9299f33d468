package aggregator

import (
	"fmt"

	"github.com/pable/combatlog/internal/attrs"
	"github.com/pable/combatlog/internal/battle"
	"github.com/pable/combatlog/internal/cooldown"
	"github.com/pable/combatlog/internal/model"
)

// handlePacket is the single dispatch site over the packet union.
// Unknown variants are ignored.
func (a *Aggregator) handlePacket(p model.Packet) {
	switch pkt := p.(type) {
	case model.ServerChange:
		a.onServerChange(pkt)
	case model.EnterScene:
		a.onEnterScene(pkt)
	case model.SyncNearEntities:
		for _, sp := range pkt.Entities {
			a.upsertEntity(sp, pkt.AtMs)
		}
	case model.SyncContainerData:
		a.onContainerData(pkt)
	case model.SyncContainerDirtyData:
		a.onContainerDirtyData(pkt)
	case model.SyncToMeDeltaInfo:
		a.onToMeDelta(pkt)
	case model.SyncNearDeltaInfo:
		a.onNearDelta(pkt)
	case model.NotifyReviveUser:
		a.onRevive(pkt)
	case model.SyncDungeonData:
		a.applyBattleReason(a.battle.ApplyDungeonData(pkt, a.enc.TimeFightStartMs > 0))
	case model.SyncDungeonDirtyData:
		a.applyBattleReason(a.battle.ApplyDirtyData(pkt, a.enc.TimeFightStartMs > 0))
	case model.PauseEncounter:
		a.setPaused(pkt.Paused)
	case model.ResetEncounter:
		a.resetEncounter(pkt.IsManual, false)
	}
}

// onServerChange commits whatever is running and starts from a clean
// slate: full reset plus a reinitialized battle state machine.
func (a *Aggregator) onServerChange(p model.ServerChange) {
	a.resetEncounter(false, false)
	a.battle.Reset()
}

// onEnterScene extracts the scene id and routes the transition:
// a full reset in default mode, a segment transition in dungeon mode.
func (a *Aggregator) onEnterScene(p model.EnterScene) {
	id, found := attrs.ExtractSceneID(p.SceneGUID, p.Attrs, p.SubsceneAttrs, a.registry)
	name := sceneDisplayName(id, found, p.SceneGUID)

	if id == a.enc.CurrentSceneID && found {
		return
	}
	segment := a.dungeon.Enabled() && a.enc.TimeFightStartMs > 0
	if a.enc.TimeFightStartMs > 0 {
		a.resetEncounter(false, segment)
	}
	a.enc.CurrentSceneID = id
	a.enc.CurrentSceneName = name
	if segment {
		a.dungeon.OnSceneChange(p.AtMs, id, name)
	} else {
		a.dungeon.OnSceneReset(p.AtMs, id, name)
	}
	a.publish(Event{Name: "scene-change", Payload: model.SceneChangeEvent{SceneName: name}})
}

// sceneDisplayName renders a display name for the scene. Localization
// tables are an external collaborator, so a registered id renders as
// "Scene <id>" and an unknown one falls back to the GUID when present.
func sceneDisplayName(id int64, found bool, guid string) string {
	if found {
		return fmt.Sprintf("Scene %d", id)
	}
	if guid != "" {
		return fmt.Sprintf("Unknown (%s)", guid)
	}
	return "Unknown"
}

// upsertEntity creates or updates an Entity from a spawn record and keeps
// the identity cache in step.
func (a *Aggregator) upsertEntity(sp model.EntitySpawn, atMs int64) {
	e := a.enc.EntityOrCreate(sp.EntityID)
	if sp.EntityType != model.EntityUnknown {
		e.EntityType = sp.EntityType
	}
	if sp.Name != "" {
		e.Name = sp.Name
	}
	if sp.MonsterName != "" && e.Name == "" {
		e.MonsterNamePacket = sp.MonsterName
	}
	if sp.ClassID != 0 {
		e.ClassID = sp.ClassID
	}
	if sp.ClassSpec != 0 {
		e.ClassSpec = sp.ClassSpec
	}
	if sp.IsBoss {
		e.IsBoss = true
	}
	a.applyAttrs(e, sp.Attrs)
	a.touchCache(e, atMs)
}

// touchCache records the entity in the identity cache, marking the row
// dirty when anything identity-shaped changed.
func (a *Aggregator) touchCache(e *model.Entity, atMs int64) {
	c, ok := a.cache[e.EntityID]
	if !ok {
		c = &model.CachedEntity{EntityID: e.EntityID, FirstSeenMs: atMs, Dirty: true}
		a.cache[e.EntityID] = c
	}
	if c.Name != e.Name && e.Name != "" {
		c.Name = e.Name
		c.Dirty = true
	}
	if c.EntityType != e.EntityType && e.EntityType != model.EntityUnknown {
		c.EntityType = e.EntityType
		c.Dirty = true
	}
	if c.ClassID != e.ClassID && e.ClassID != 0 {
		c.ClassID = e.ClassID
		c.Dirty = true
	}
	if c.ClassSpec != e.ClassSpec && e.ClassSpec != 0 {
		c.ClassSpec = e.ClassSpec
		c.Dirty = true
	}
	if atMs > c.LastSeenMs {
		c.LastSeenMs = atMs
	}
}

// applyAttrs decodes raw attribute slots into the entity's live attribute
// map. A slot that fails to decode is stored as raw bytes rather than
// dropped.
func (a *Aggregator) applyAttrs(e *model.Entity, raw []model.RawAttr) {
	for _, r := range raw {
		v := attrs.Decode(r, attrs.KindInt)
		e.Attrs[r.AttrID] = v
		switch r.AttrID {
		case model.AttrSkillCDFixed, model.AttrSkillCDPercent, model.AttrCDAcceleratePct:
			if e.EntityID == a.enc.LocalPlayerUID {
				a.recomputeCooldownAttrs(e)
			}
		}
	}
}

// recomputeCooldownAttrs pushes the local player's three reduction
// attributes into the cooldown calculator.
func (a *Aggregator) recomputeCooldownAttrs(e *model.Entity) {
	a.cooldown.SetAttributes(
		e.Attrs[model.AttrSkillCDFixed].AsInt(),
		e.Attrs[model.AttrSkillCDPercent].AsInt(),
		e.Attrs[model.AttrCDAcceleratePct].AsInt(),
	)
}

// onContainerData stores the local-player payload and identity on top of
// the normal spawn handling.
func (a *Aggregator) onContainerData(p model.SyncContainerData) {
	for _, sp := range p.Entities {
		a.upsertEntity(sp, p.AtMs)
	}
	if p.LocalPlayerUID != 0 {
		a.enc.LocalPlayerUID = p.LocalPlayerUID
		if e, ok := a.enc.Entities[p.LocalPlayerUID]; ok {
			a.recomputeCooldownAttrs(e)
		}
	}
	if len(p.RawPlayerData) > 0 {
		a.playerData = p.RawPlayerData
		a.playerDataID = a.enc.LocalPlayerUID
		a.playerDataSeen = p.AtMs
		a.playerDataDirty = true
	}
}

// onContainerDirtyData applies incremental attribute updates; entities we
// have never seen are skipped (a dirty update carries no identity to
// create one from).
func (a *Aggregator) onContainerDirtyData(p model.SyncContainerDirtyData) {
	e, ok := a.enc.Entities[p.EntityID]
	if !ok {
		return
	}
	a.applyAttrs(e, p.Attrs)
	a.touchCache(e, p.AtMs)
}

// onToMeDelta handles the hot-path packet: combat deltas, attribute
// deltas, cooldown updates, buff events, and fight resources.
func (a *Aggregator) onToMeDelta(p model.SyncToMeDeltaInfo) {
	if a.dropIfPaused(len(p.Deltas) > 0) {
		return
	}
	for _, d := range p.Deltas {
		a.applyCombatDelta(d)
	}
	for _, ad := range p.AttrDelta {
		if e, ok := a.enc.Entities[ad.EntityID]; ok {
			a.applyAttrs(e, ad.Attrs)
		}
	}
	for _, ta := range p.TempAttrs {
		a.cooldown.SetTempModifier(ta.SkillLevelID, cooldown.TempModifier{FixedMs: ta.FixedMs, Pct: ta.Pct})
	}
	for _, cd := range p.Cooldowns {
		a.cooldown.Observe(cd, a.now())
	}
	for _, b := range p.Buffs {
		a.buffs.Apply(b, a.now())
	}
	if len(p.Cooldowns) > 0 || len(p.TempAttrs) > 0 {
		if rows := a.cooldown.States(a.enc.Subs.MonitoredSkills); len(rows) > 0 {
			a.publish(Event{Name: "skill-cd-update", Payload: model.SkillCdUpdate{SkillCds: rows}})
		}
	}
	if len(p.FightRes) > 0 {
		a.publish(Event{Name: "fight-res-update", Payload: model.FightResUpdate{Values: p.FightRes, ReceivedAt: a.now()}})
	}
}

// onNearDelta is the near-entity counterpart of onToMeDelta.
func (a *Aggregator) onNearDelta(p model.SyncNearDeltaInfo) {
	if a.dropIfPaused(len(p.Deltas) > 0) {
		return
	}
	for _, d := range p.Deltas {
		a.applyCombatDelta(d)
	}
	for _, ad := range p.AttrDelta {
		if e, ok := a.enc.Entities[ad.EntityID]; ok {
			a.applyAttrs(e, ad.Attrs)
		}
	}
	for _, b := range p.Buffs {
		a.buffs.Apply(b, a.now())
	}
}

// dropIfPaused reports whether a combat-bearing packet must be dropped
// because the encounter is paused, logging the drop once per pause.
func (a *Aggregator) dropIfPaused(carriesCombat bool) bool {
	if !a.enc.IsPaused || !carriesCombat {
		return false
	}
	if !a.pauseDropLogged {
		a.log.Warn("dropping combat packets while paused")
		a.pauseDropLogged = true
	}
	return true
}

// applyCombatDelta accounts one hit across every table it touches.
func (a *Aggregator) applyCombatDelta(d model.CombatDelta) {
	owner := a.enc.EntityOrCreate(d.OwnerID)
	target := a.enc.EntityOrCreate(d.TargetID)
	if target.Name == "" && target.MonsterNamePacket == "" && d.MonsterName != "" {
		target.MonsterNamePacket = d.MonsterName
	}
	now := d.AtMs

	switch d.Flag {
	case model.HitDamage:
		owner.Damage.AddHit(d.Value, d.Crit, d.Lucky)
		if target.IsBossEntity() {
			owner.DamageBossOnly.AddHit(d.Value, d.Crit, d.Lucky)
			if owner.EntityType == model.EntityCharacter {
				a.enc.TotalDmgBossOnly = satAdd(a.enc.TotalDmgBossOnly, d.Value)
			}
			a.dungeon.OnBossEngage(now, a.bossDisplayName(target))
		}
		owner.DmgToTarget[d.TargetID] = satAdd(owner.DmgToTarget[d.TargetID], d.Value)

		key := model.SkillTargetKey{SkillID: d.SkillID, TargetID: d.TargetID}
		sts, ok := owner.SkillDmgToTarget[key]
		if !ok {
			sts = &model.SkillTargetStats{SkillID: d.SkillID, TargetID: d.TargetID, MonsterName: target.DisplayName()}
			owner.SkillDmgToTarget[key] = sts
		}
		sts.Stats.AddHit(d.Value, d.Crit, d.Lucky)

		skillFor(owner.DamageSkills, d.SkillID).Stats.AddHit(d.Value, d.Crit, d.Lucky)
		owner.ApplyActiveDamageTick(now)
		if owner.EntityType == model.EntityCharacter {
			a.enc.TotalDmg = satAdd(a.enc.TotalDmg, d.Value)
		}

	case model.HitHeal:
		owner.Heal.AddHit(d.Value, d.Crit, d.Lucky)
		key := model.SkillTargetKey{SkillID: d.SkillID, TargetID: d.TargetID}
		sts, ok := owner.SkillHealToTarget[key]
		if !ok {
			sts = &model.SkillTargetStats{SkillID: d.SkillID, TargetID: d.TargetID}
			owner.SkillHealToTarget[key] = sts
		}
		sts.Stats.AddHit(d.Value, d.Crit, d.Lucky)
		skillFor(owner.HealSkills, d.SkillID).Stats.AddHit(d.Value, d.Crit, d.Lucky)
		if owner.EntityType == model.EntityCharacter {
			a.enc.TotalHeal = satAdd(a.enc.TotalHeal, d.Value)
		}

	case model.HitTaken:
		owner.Taken.AddHit(d.Value, d.Crit, d.Lucky)
		skillFor(owner.TakenSkills, d.SkillID).Stats.AddHit(d.Value, d.Crit, d.Lucky)
	}

	if a.enc.TimeFightStartMs == 0 {
		a.enc.TimeFightStartMs = now
	}
	a.enc.TimeLastCombatPacketMs = now
	a.dungeon.OnCombat(now)
}

// skillFor returns the Skill row for skillID, creating it on first use.
func skillFor(table map[uint32]*model.Skill, skillID uint32) *model.Skill {
	s, ok := table[skillID]
	if !ok {
		s = &model.Skill{SkillID: skillID}
		table[skillID] = s
	}
	return s
}

// satAdd is saturating uint64 addition, mirroring CombatStats arithmetic
// for the encounter-level totals.
func satAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// onRevive restores the revived entity's HP attributes; combat totals are
// untouched.
func (a *Aggregator) onRevive(p model.NotifyReviveUser) {
	e, ok := a.enc.Entities[p.EntityID]
	if !ok {
		return
	}
	for _, r := range p.Attrs {
		switch r.AttrID {
		case model.AttrCurrentHP, model.AttrMaxHP:
			e.Attrs[r.AttrID] = attrs.Decode(r, attrs.KindInt)
		}
	}
}

// bossDisplayName derives a boss label: name, else monster-name packet,
// else "Boss {uid}".
func (a *Aggregator) bossDisplayName(e *model.Entity) string {
	if n := e.DisplayName(); n != "" {
		return n
	}
	return fmt.Sprintf("Boss %d", e.EntityID)
}

// applyBattleReason resets the encounter when the battle state machine
// yields a reason.
func (a *Aggregator) applyBattleReason(reason battle.ResetReason) {
	if reason == battle.ResetNone {
		return
	}
	a.log.Info("battle state reset", "reason", reason.String())
	a.resetEncounter(false, false)
}
