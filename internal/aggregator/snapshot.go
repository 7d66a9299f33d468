package aggregator

import (
	"fmt"
	"math"
	"sort"

	"github.com/pable/combatlog/internal/boundary"
	"github.com/pable/combatlog/internal/model"
)

// tick runs the periodic work: deferred and wipe checks, segment
// timeouts, boss-death inference, then snapshot emission.
func (a *Aggregator) tick(nowMs int64) {
	a.applyBattleReason(a.battle.CheckDeferredCalls(nowMs))
	a.checkWipe(nowMs)
	a.dungeon.CheckTimeout(nowMs)
	a.checkBossDeaths(nowMs)
	a.emitSnapshots(nowMs)
}

// checkWipe feeds the battle machine the per-character buff sets.
func (a *Aggregator) checkWipe(nowMs int64) {
	byEntity := make(map[uint64]map[uint32]bool)
	for id, e := range a.enc.Entities {
		if e.EntityType == model.EntityCharacter {
			byEntity[id] = a.buffs.ActiveBaseIDs(id)
		}
	}
	a.applyBattleReason(a.battle.CheckForWipe(byEntity, nowMs, a.enc.TimeLastCombatPacketMs))
}

// checkBossDeaths runs the boundary detector over the live bosses and
// handles first-time promotions: event, defeated set, segment close.
func (a *Aggregator) checkBossDeaths(nowMs int64) {
	if a.enc.TimeFightStartMs == 0 {
		return
	}
	var bosses []boundary.BossTick
	for id, e := range a.enc.Entities {
		if !e.IsBossEntity() || e.MaxHP() <= 0 {
			continue
		}
		bosses = append(bosses, boundary.BossTick{
			EntityID:  id,
			Name:      a.bossDisplayName(e),
			CurrentHP: e.CurrentHP(),
			MaxHP:     e.MaxHP(),
		})
	}
	if len(bosses) == 0 {
		return
	}
	teamDPS := safeDiv(float64(a.scopeDamage()), a.elapsedSecs(nowMs))
	for _, death := range a.boundary.Tick(nowMs, bosses, teamDPS) {
		a.enc.DefeatedBosses[death.EntityID] = death.Name
		a.dungeon.OnBossDeath(nowMs)
		a.publish(Event{Name: "boss-death", Payload: model.BossDeathEvent{BossName: death.Name, EntityID: death.EntityID}})
	}
}

// emitSnapshots builds and publishes the per-tick outputs.
// Header and players windows go out whenever there is scope data; skills
// windows only for subscribed (player, metric) pairs.
func (a *Aggregator) emitSnapshots(nowMs int64) {
	if a.enc.TimeFightStartMs == 0 {
		return
	}
	update := model.EncounterUpdate{Header: a.buildHeader(nowMs), IsPaused: a.enc.IsPaused}
	a.publish(Event{Name: "encounter-update", Payload: update})
	a.publishLatest(update)

	for _, metric := range []model.MetricType{model.MetricDPS, model.MetricHeal, model.MetricTanked} {
		a.publish(Event{Name: "players-update", Payload: model.PlayersUpdate{
			MetricType:    metric,
			PlayersWindow: a.buildPlayers(metric, nowMs),
		}})
	}

	for key := range a.enc.Subs.SkillSubscriptions {
		a.publish(Event{Name: "skills-update", Payload: model.SkillsUpdate{
			MetricType:   key.MetricType,
			PlayerUID:    key.PlayerUID,
			SkillsWindow: a.buildSkills(key.PlayerUID, key.MetricType),
		}})
	}

	if rows := a.buffs.Emit(a.enc.Subs.MonitoredBuffs, a.enc.Subs.MonitorAllBuffs, a.enc.Subs.BuffPriority); len(rows) > 0 {
		a.publish(Event{Name: "buff-update", Payload: model.BuffUpdate{Buffs: rows}})
	}

	if a.dungeon.Enabled() {
		a.publish(Event{Name: "dungeon-log", Payload: a.dungeon.Snapshot()})
	}
}

// buildHeader assembles the snapshot header.
func (a *Aggregator) buildHeader(nowMs int64) model.HeaderInfo {
	elapsed := nowMs - a.enc.TimeFightStartMs
	h := model.HeaderInfo{
		TotalDPS:     safeDiv(float64(a.scopeDamage()), a.elapsedSecs(nowMs)),
		TotalDmg:     a.scopeDamage(),
		ElapsedMs:    elapsed,
		FightStartMs: a.enc.TimeFightStartMs,
		SceneID:      a.enc.CurrentSceneID,
		SceneName:    a.enc.CurrentSceneName,
	}
	for id, e := range a.enc.Entities {
		if !e.IsBossEntity() || e.MaxHP() <= 0 {
			continue
		}
		cur := e.CurrentHP()
		if a.boundary.IsDead(id) {
			cur = 0 // pinned once promoted
		}
		h.BossHealth = append(h.BossHealth, model.BossHealth{
			EntityID:  id,
			Name:      a.bossDisplayName(e),
			CurrentHP: cur,
			MaxHP:     e.MaxHP(),
			HPPercent: safeDiv(float64(cur)*100, float64(e.MaxHP())),
		})
	}
	sort.Slice(h.BossHealth, func(i, j int) bool { return h.BossHealth[i].EntityID < h.BossHealth[j].EntityID })
	if seg := a.dungeon.Current(); seg != nil {
		h.HasSegment = true
		h.SegmentType = seg.Type
		h.SegmentName = seg.BossName
	}
	return h
}

// buildPlayers assembles one ranked players window.
func (a *Aggregator) buildPlayers(metric model.MetricType, nowMs int64) []model.PlayerRow {
	scope := a.scopeTotal(metric)
	elapsed := a.elapsedSecs(nowMs)

	var rows []model.PlayerRow
	for id, e := range a.enc.Entities {
		if e.EntityType != model.EntityCharacter {
			continue
		}
		stats, total := a.metricStats(e, metric)
		if total == 0 {
			continue
		}
		rows = append(rows, model.PlayerRow{
			EntityID:       id,
			Name:           a.prettyName(e, true),
			ClassID:        e.ClassID,
			ClassSpec:      e.ClassSpec,
			AbilityScore:   e.AbilityScore,
			Total:          total,
			PerSecond:      safeDiv(float64(total), elapsed),
			ActiveTimeMs:   e.ActiveDmgTimeMs,
			PercentOfScope: safeDiv(float64(total)*100, float64(scope)),
			CritRate:       safeDiv(float64(stats.CritHits)*100, float64(stats.Hits)),
			LuckyRate:      safeDiv(float64(stats.LuckyHits)*100, float64(stats.Hits)),
			CurrentHP:      e.CurrentHP(),
			MaxHP:          e.MaxHP(),
			IsLocalPlayer:  id == a.enc.LocalPlayerUID,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].EntityID < rows[j].EntityID
	})
	return rows
}

// metricStats selects the CombatStats and ranking total for a metric,
// honoring the boss-only flag for damage.
func (a *Aggregator) metricStats(e *model.Entity, metric model.MetricType) (model.CombatStats, uint64) {
	switch metric {
	case model.MetricHeal:
		return e.Heal, e.Heal.Total
	case model.MetricTanked:
		return e.Taken, e.Taken.Total
	default:
		if a.bossOnly {
			return e.DamageBossOnly, e.DamageBossOnly.Total
		}
		return e.Damage, e.Damage.Total
	}
}

// scopeTotal is the denominator for percent-of-scope per metric.
func (a *Aggregator) scopeTotal(metric model.MetricType) uint64 {
	switch metric {
	case model.MetricHeal:
		return a.enc.TotalHeal
	case model.MetricTanked:
		var sum uint64
		for _, e := range a.enc.Entities {
			if e.EntityType == model.EntityCharacter {
				sum = satAdd(sum, e.Taken.Total)
			}
		}
		return sum
	default:
		return a.scopeDamage()
	}
}

// scopeDamage is either all damage or boss-only damage, per the flag.
func (a *Aggregator) scopeDamage() uint64 {
	if a.bossOnly {
		return a.enc.TotalDmgBossOnly
	}
	return a.enc.TotalDmg
}

// buildSkills assembles the per-skill window for one player and metric,
// sorted descending by total.
func (a *Aggregator) buildSkills(playerUID uint64, metric model.MetricType) []model.SkillRow {
	e, ok := a.enc.Entities[playerUID]
	if !ok {
		return nil
	}
	var table map[uint32]*model.Skill
	var ownerTotal uint64
	switch metric {
	case model.MetricHeal:
		table, ownerTotal = e.HealSkills, e.Heal.Total
	case model.MetricTanked:
		table, ownerTotal = e.TakenSkills, e.Taken.Total
	default:
		table, ownerTotal = e.DamageSkills, e.Damage.Total
	}

	rows := make([]model.SkillRow, 0, len(table))
	for id, s := range table {
		rows = append(rows, model.SkillRow{
			SkillID:        id,
			Total:          s.Stats.Total,
			Hits:           s.Stats.Hits,
			CritHits:       s.Stats.CritHits,
			CritTotal:      s.Stats.CritTotal,
			LuckyHits:      s.Stats.LuckyHits,
			LuckyTotal:     s.Stats.LuckyTotal,
			PercentOfOwner: safeDiv(float64(s.Stats.Total)*100, float64(ownerTotal)),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].SkillID < rows[j].SkillID
	})
	return rows
}

// prettyName resolves the display name for an entity: live name,
// else cached name, with local-player dressing when youSuffix is set, and
// "#{uid}" for entities nothing has named.
func (a *Aggregator) prettyName(e *model.Entity, youSuffix bool) string {
	name := e.DisplayName()
	if name == "" {
		if c, ok := a.cache[e.EntityID]; ok {
			name = c.Name
		}
	}
	if youSuffix && e.EntityID == a.enc.LocalPlayerUID {
		if name == "" {
			return "You"
		}
		return name + " (You)"
	}
	if name == "" {
		return fmt.Sprintf("#%d", e.EntityID)
	}
	return name
}

// elapsedSecs is the fight duration denominator at nowMs.
func (a *Aggregator) elapsedSecs(nowMs int64) float64 {
	if a.enc.TimeFightStartMs == 0 {
		return 0
	}
	return float64(nowMs-a.enc.TimeFightStartMs) / 1000
}

// safeDiv divides, mapping NaN and infinities to 0.
func safeDiv(num, den float64) float64 {
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
