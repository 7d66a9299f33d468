package aggregator

import (
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/pable/combatlog/internal/model"
)

// recordingStore captures commits handed to the persistence layer.
type recordingStore struct {
	commits []model.EncounterCommit
}

func (r *recordingStore) CommitEncounter(c model.EncounterCommit) {
	r.commits = append(r.commits, c)
}

// testAggregator wires an aggregator with a fake clock, a recording
// store, and a registry accepting scene ids 1001 and 1002.
func testAggregator(t *testing.T) (*Aggregator, *recordingStore) {
	t.Helper()
	store := &recordingStore{}
	a := New(slog.New(slog.DiscardHandler), store, func(id int64) bool {
		return id == 1001 || id == 1002
	})
	a.now = func() int64 { return 0 }
	return a, store
}

func varintAttr(id uint32, v uint64) model.RawAttr {
	return model.RawAttr{AttrID: id, Raw: binary.AppendUvarint(nil, v)}
}

func enterScene(atMs int64, sceneID string) model.EnterScene {
	return model.EnterScene{AtMs: atMs, SceneGUID: "guid-" + sceneID}
}

func spawnBoss(uid uint64, maxHP, curHP uint64) model.EntitySpawn {
	return model.EntitySpawn{
		EntityID:    uid,
		EntityType:  model.EntityMonster,
		MonsterName: "Gravelord",
		IsBoss:      true,
		Attrs: []model.RawAttr{
			varintAttr(model.AttrCurrentHP, curHP),
			varintAttr(model.AttrMaxHP, maxHP),
		},
	}
}

func spawnPlayer(uid uint64, name string, classID uint32) model.EntitySpawn {
	return model.EntitySpawn{EntityID: uid, EntityType: model.EntityCharacter, Name: name, ClassID: classID}
}

func dmg(atMs int64, owner, target uint64, skill uint32, value uint64) model.CombatDelta {
	return model.CombatDelta{AtMs: atMs, OwnerID: owner, TargetID: target, SkillID: skill, Value: value, Flag: model.HitDamage}
}

func (a *Aggregator) drainEvents() []Event {
	var out []Event
	for {
		select {
		case ev := <-a.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(evs []Event, name string) int {
	n := 0
	for _, ev := range evs {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// Scenario 1: single-boss kill, then commit on the next scene change.
func TestSingleBossKill(t *testing.T) {
	a, store := testAggregator(t)

	a.handlePacket(enterScene(0, "1001"))
	a.handlePacket(model.SyncNearEntities{AtMs: 0, Entities: []model.EntitySpawn{
		spawnBoss(900, 1_000_000, 1_000_000),
		spawnPlayer(1, "Alice", 7),
	}})

	// 100 damage deltas of 10k over 10 seconds; HP tracks down to zero.
	for i := 0; i < 100; i++ {
		at := int64(i)*100 + 100
		a.handlePacket(model.SyncToMeDeltaInfo{
			AtMs:   at,
			Deltas: []model.CombatDelta{dmg(at, 1, 900, 55, 10_000)},
			AttrDelta: []model.EntityAttrDelta{{
				EntityID: 900,
				Attrs:    []model.RawAttr{varintAttr(model.AttrCurrentHP, uint64(1_000_000-(i+1)*10_000))},
			}},
		})
	}

	if a.enc.TotalDmg != 1_000_000 {
		t.Errorf("TotalDmg = %d, want 1_000_000", a.enc.TotalDmg)
	}
	p := a.enc.Entities[1]
	if p.Damage.Total != 1_000_000 || p.Damage.Hits != 100 {
		t.Errorf("player damage = %d/%d hits", p.Damage.Total, p.Damage.Hits)
	}
	if p.DamageBossOnly.Total != 1_000_000 {
		t.Errorf("boss-only damage = %d, want 1_000_000", p.DamageBossOnly.Total)
	}
	if a.enc.TimeFightStartMs != 100 || a.enc.TimeLastCombatPacketMs != 10_000 {
		t.Errorf("fight window = [%d, %d]", a.enc.TimeFightStartMs, a.enc.TimeLastCombatPacketMs)
	}

	// Boss at 0 HP; tick through the dwell window. Team DPS is
	// 1M / ~10s >> 5000.
	for now := int64(10_000); now <= 16_000; now += 200 {
		a.tick(now)
	}
	evs := a.drainEvents()
	if got := countEvents(evs, "boss-death"); got != 1 {
		t.Fatalf("boss-death events = %d, want 1", got)
	}
	if a.enc.DefeatedBosses[900] != "Gravelord" {
		t.Errorf("defeated set = %v", a.enc.DefeatedBosses)
	}

	// Next scene change commits the encounter.
	a.handlePacket(enterScene(20_000, "1002"))
	if len(store.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(store.commits))
	}
	h := store.commits[0].Header
	if h.TotalDmg != 1_000_000 || h.StartedAtMs != 100 || h.EndedAtMs != 10_000 {
		t.Errorf("committed header %+v", h)
	}
	if len(h.BossNames) != 1 || h.BossNames[0] != "Gravelord" {
		t.Errorf("boss names %v", h.BossNames)
	}
	if len(h.PlayerNames) != 1 || h.PlayerNames[0] != "Alice" {
		t.Errorf("player names %v", h.PlayerNames)
	}
	if h.IsManuallyReset {
		t.Error("scene-change commit flagged as manual")
	}
}

// Scenario 2: combat packets are dropped while paused.
func TestPauseDropsCombat(t *testing.T) {
	a, _ := testAggregator(t)
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})

	a.handlePacket(model.PauseEncounter{Paused: true})
	for i := 0; i < 10; i++ {
		a.handlePacket(model.SyncToMeDeltaInfo{Deltas: []model.CombatDelta{dmg(int64(i), 1, 2, 5, 500)}})
	}
	a.handlePacket(model.PauseEncounter{Paused: false})
	a.handlePacket(model.SyncToMeDeltaInfo{Deltas: []model.CombatDelta{dmg(100, 1, 2, 5, 500)}})

	if a.enc.TotalDmg != 500 {
		t.Errorf("TotalDmg = %d, want 500", a.enc.TotalDmg)
	}
}

// Scenario 3: scene change with dungeon segments keeps the fight clock.
func TestSceneChangeWithSegments(t *testing.T) {
	a, store := testAggregator(t)
	a.applyCommand(model.SetDungeonSegmentsEnabled{Enabled: true})

	a.handlePacket(enterScene(0, "1001"))
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 1000, Deltas: []model.CombatDelta{dmg(1000, 1, 2, 5, 100_000)}})

	a.handlePacket(enterScene(5000, "1002"))

	if a.enc.TotalDmg != 0 {
		t.Errorf("combat counters not cleared: TotalDmg = %d", a.enc.TotalDmg)
	}
	if a.enc.Entities[1].Damage.Total != 0 {
		t.Errorf("per-entity combat not cleared")
	}
	if a.enc.TimeFightStartMs != 1000 {
		t.Errorf("fight start = %d, want preserved 1000", a.enc.TimeFightStartMs)
	}
	// Segment reset does not commit; the run persists as one encounter.
	if len(store.commits) != 0 {
		t.Errorf("segment reset committed %d encounters", len(store.commits))
	}
	segs := a.dungeon.Segments()
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2 (closed 1001 + open 1002)", len(segs))
	}
	if segs[0].SceneID != 1001 || segs[0].EndedAtMs != 5000 {
		t.Errorf("old segment %+v", segs[0])
	}
	if segs[1].SceneID != 1002 || segs[1].EndedAtMs != 0 {
		t.Errorf("new segment %+v", segs[1])
	}
}

// Scenario 4: crit and lucky may both be set on one hit.
func TestCritAndLuckySameHit(t *testing.T) {
	a, _ := testAggregator(t)
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})
	a.handlePacket(model.SyncToMeDeltaInfo{Deltas: []model.CombatDelta{{
		OwnerID: 1, TargetID: 2, SkillID: 9, Value: 1000, Flag: model.HitDamage, Crit: true, Lucky: true,
	}}})

	d := a.enc.Entities[1].Damage
	if d.Hits != 1 || d.CritHits != 1 || d.LuckyHits != 1 {
		t.Errorf("hits = %d/%d/%d, want 1/1/1", d.Hits, d.CritHits, d.LuckyHits)
	}
	if d.Total != 1000 || d.CritTotal != 1000 || d.LuckyTotal != 1000 {
		t.Errorf("totals = %d/%d/%d, want 1000 each", d.Total, d.CritTotal, d.LuckyTotal)
	}
}

// Scenario 5: the active-damage gap cap.
func TestActiveDamageGapCap(t *testing.T) {
	a, _ := testAggregator(t)
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 1000, Deltas: []model.CombatDelta{dmg(1000, 1, 2, 5, 1000)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 11_000, Deltas: []model.CombatDelta{dmg(11_000, 1, 2, 5, 1000)}})

	if got := a.enc.Entities[1].ActiveDmgTimeMs; got != 5000 {
		t.Errorf("active time = %d, want 5000 (gap capped)", got)
	}
}

// Per-entity table invariants after a mixed stream of hits.
func TestEntityInvariants(t *testing.T) {
	a, _ := testAggregator(t)
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{
		spawnPlayer(1, "P", 1), spawnBoss(900, 1000, 1000),
	}})
	deltas := []model.CombatDelta{
		dmg(0, 1, 900, 5, 100),
		dmg(10, 1, 900, 6, 250),
		dmg(20, 1, 777, 5, 50),
		{AtMs: 30, OwnerID: 1, TargetID: 1, SkillID: 7, Value: 40, Flag: model.HitHeal},
		{AtMs: 40, OwnerID: 1, TargetID: 900, SkillID: 8, Value: 60, Flag: model.HitTaken, Crit: true},
	}
	a.handlePacket(model.SyncToMeDeltaInfo{Deltas: deltas})

	e := a.enc.Entities[1]
	var skillSum, skillHits uint64
	for _, s := range e.DamageSkills {
		skillSum += s.Stats.Total
		skillHits += s.Stats.Hits
	}
	if skillSum != e.Damage.Total || skillHits != e.Damage.Hits {
		t.Errorf("damage skill table: %d/%d vs %d/%d", skillSum, skillHits, e.Damage.Total, e.Damage.Hits)
	}
	var targetSum uint64
	for _, v := range e.DmgToTarget {
		targetSum += v
	}
	if targetSum != e.Damage.Total {
		t.Errorf("dmg_to_target sum %d != damage total %d", targetSum, e.Damage.Total)
	}
	var stSum uint64
	for _, st := range e.SkillDmgToTarget {
		stSum += st.Stats.Total
	}
	if stSum != e.Damage.Total {
		t.Errorf("skill-target sum %d != damage total %d", stSum, e.Damage.Total)
	}
	if e.DamageBossOnly.Total != 350 {
		t.Errorf("boss-only = %d, want 350", e.DamageBossOnly.Total)
	}
	var healSum uint64
	for _, s := range e.HealSkills {
		healSum += s.Stats.Total
	}
	if healSum != e.Heal.Total {
		t.Errorf("heal skill table %d != %d", healSum, e.Heal.Total)
	}
	var takenSum uint64
	for _, s := range e.TakenSkills {
		takenSum += s.Stats.Total
	}
	if takenSum != e.Taken.Total {
		t.Errorf("taken skill table %d != %d", takenSum, e.Taken.Total)
	}
	if a.enc.TotalDmg != e.Damage.Total {
		t.Errorf("encounter total %d != entity total %d", a.enc.TotalDmg, e.Damage.Total)
	}
}

// Reset invariants: counters zeroed, clocks zeroed, buffs and
// subscriptions emptied, identity cache preserved.
func TestResetInvariants(t *testing.T) {
	a, store := testAggregator(t)
	a.handlePacket(enterScene(0, "1001"))
	a.handlePacket(model.SyncNearEntities{AtMs: 0, Entities: []model.EntitySpawn{spawnPlayer(1, "Alice", 7)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 100,
		Deltas: []model.CombatDelta{dmg(100, 1, 2, 5, 1000)},
		Buffs:  []model.BuffEvent{{Kind: model.BuffAdd, EntityID: 1, BuffUUID: [16]byte{1}, BaseID: 10, CreateTimeMs: 50}},
	})
	a.applyCommand(model.SubscribeSkill{PlayerUID: 1, MetricType: model.MetricDPS})

	a.handlePacket(model.ResetEncounter{IsManual: true})

	if len(store.commits) != 1 || !store.commits[0].Header.IsManuallyReset {
		t.Fatalf("manual reset commit missing or unflagged: %+v", store.commits)
	}
	if a.enc.TotalDmg != 0 || a.enc.TimeFightStartMs != 0 || a.enc.TimeLastCombatPacketMs != 0 {
		t.Errorf("encounter aggregates survived reset")
	}
	e := a.enc.Entities[1]
	if e.Damage.Total != 0 || len(e.DamageSkills) != 0 || e.ActiveDmgTimeMs != 0 {
		t.Errorf("entity combat survived reset")
	}
	if a.buffs.Len() != 0 {
		t.Errorf("buffs survived reset")
	}
	if len(a.enc.Subs.SkillSubscriptions) != 0 {
		t.Errorf("subscriptions survived reset")
	}
	if a.cache[1] == nil || a.cache[1].Name != "Alice" {
		t.Errorf("identity cache lost on reset")
	}
	evs := a.drainEvents()
	if countEvents(evs, "reset-encounter") != 1 {
		t.Errorf("no reset-encounter event")
	}
}

// Skill windows are gated by subscription; players windows are not.
func TestSkillSubscriptionGating(t *testing.T) {
	a, _ := testAggregator(t)
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 100, Deltas: []model.CombatDelta{dmg(100, 1, 2, 5, 1000)}})
	a.drainEvents()

	a.tick(1000)
	evs := a.drainEvents()
	if countEvents(evs, "skills-update") != 0 {
		t.Errorf("skills emitted without subscription")
	}
	if countEvents(evs, "players-update") != 3 {
		t.Errorf("players-update = %d, want 3 (one per metric)", countEvents(evs, "players-update"))
	}

	a.applyCommand(model.SubscribeSkill{PlayerUID: 1, MetricType: model.MetricDPS})
	a.tick(1200)
	evs = a.drainEvents()
	if countEvents(evs, "skills-update") != 1 {
		t.Errorf("skills-update = %d, want 1 after subscribe", countEvents(evs, "skills-update"))
	}
}

// Local-player name dressing and percent-of-scope in the players window.
func TestPlayersWindow(t *testing.T) {
	a, _ := testAggregator(t)
	a.handlePacket(model.SyncContainerData{Entities: []model.EntitySpawn{
		spawnPlayer(1, "Alice", 7), spawnPlayer(2, "Bob", 3),
	}, LocalPlayerUID: 1})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 1000, Deltas: []model.CombatDelta{
		dmg(1000, 1, 9, 5, 3000), dmg(1000, 2, 9, 5, 1000),
	}})

	rows := a.buildPlayers(model.MetricDPS, 2000)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Name != "Alice (You)" || !rows[0].IsLocalPlayer {
		t.Errorf("local-player row %+v", rows[0])
	}
	if rows[0].PercentOfScope != 75 || rows[1].PercentOfScope != 25 {
		t.Errorf("percent = %f/%f, want 75/25", rows[0].PercentOfScope, rows[1].PercentOfScope)
	}
	if rows[0].PerSecond != 3000 {
		t.Errorf("per-second = %f, want 3000", rows[0].PerSecond)
	}
}

// ServerChange commits, clears, and reinitializes the battle machine.
func TestServerChange(t *testing.T) {
	a, store := testAggregator(t)
	a.handlePacket(model.SyncDungeonData{ObjectiveID: 10})
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 100, Deltas: []model.CombatDelta{dmg(100, 1, 2, 5, 1000)}})

	a.handlePacket(model.ServerChange{AtMs: 200})

	if len(store.commits) != 1 {
		t.Fatalf("server change did not commit")
	}
	if a.enc.TotalDmg != 0 || a.enc.TimeFightStartMs != 0 {
		t.Errorf("state survived server change")
	}
	// Battle machine forgot the objective: a different one establishes
	// rather than resets.
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 300, Deltas: []model.CombatDelta{dmg(300, 1, 2, 5, 1000)}})
	before := len(store.commits)
	a.handlePacket(model.SyncDungeonData{ObjectiveID: 42})
	if len(store.commits) != before {
		t.Errorf("battle machine kept stale objective across server change")
	}
}

// A dungeon-state reset reason from the battle machine resets the fight.
func TestBattleReasonResets(t *testing.T) {
	a, store := testAggregator(t)
	a.battle.IsEndState = func(s model.DungeonState) bool { return s == 9 }
	a.handlePacket(model.SyncNearEntities{Entities: []model.EntitySpawn{spawnPlayer(1, "P", 1)}})
	a.handlePacket(model.SyncToMeDeltaInfo{AtMs: 100, Deltas: []model.CombatDelta{dmg(100, 1, 2, 5, 1000)}})

	a.handlePacket(model.SyncDungeonData{AtMs: 200, State: 9})
	if len(store.commits) != 1 {
		t.Fatalf("terminal dungeon state did not commit")
	}
	if a.enc.TimeFightStartMs != 0 {
		t.Errorf("terminal dungeon state did not reset")
	}
}

// Monitored-skill cap: only the first ten ids are kept.
func TestMonitoredSkillsCap(t *testing.T) {
	a, _ := testAggregator(t)
	ids := make([]uint32, 15)
	for i := range ids {
		ids[i] = uint32(i + 1)
	}
	a.applyCommand(model.SetMonitoredSkills{SkillLevelIDs: ids})
	if len(a.enc.Subs.MonitoredSkills) != MaxMonitoredSkills {
		t.Errorf("monitored skills = %d, want %d", len(a.enc.Subs.MonitoredSkills), MaxMonitoredSkills)
	}
}

// A temp-attr delta reshapes a monitored skill's cooldown and emits an
// update.
func TestCooldownTempAttrWiring(t *testing.T) {
	a, _ := testAggregator(t)
	a.applyCommand(model.SetMonitoredSkills{SkillLevelIDs: []uint32{42}})
	a.handlePacket(model.SyncToMeDeltaInfo{Cooldowns: []model.CooldownUpdate{
		{AtMs: 100, SkillLevelID: 42, BaseDurationMs: 10_000},
	}})
	a.drainEvents()

	a.handlePacket(model.SyncToMeDeltaInfo{TempAttrs: []model.SkillTempAttr{
		{SkillLevelID: 42, Pct: 5000}, // +50% reduction
	}})
	evs := a.drainEvents()
	var upd *model.SkillCdUpdate
	for _, ev := range evs {
		if ev.Name == "skill-cd-update" {
			u := ev.Payload.(model.SkillCdUpdate)
			upd = &u
		}
	}
	if upd == nil || len(upd.SkillCds) != 1 {
		t.Fatalf("no skill-cd-update after temp attr: %+v", evs)
	}
	if got := upd.SkillCds[0].CalculatedDurationMs; got != 5000 {
		t.Errorf("recomputed duration = %d, want 5000", got)
	}
}

func TestUpdateRateClamped(t *testing.T) {
	a, _ := testAggregator(t)
	a.applyCommand(model.SetEventUpdateRateMs{Ms: 10})
	if a.updateRateMs != MinUpdateRateMs {
		t.Errorf("rate = %d, want clamped to %d", a.updateRateMs, MinUpdateRateMs)
	}
	a.applyCommand(model.SetEventUpdateRateMs{Ms: 99999})
	if a.updateRateMs != MaxUpdateRateMs {
		t.Errorf("rate = %d, want clamped to %d", a.updateRateMs, MaxUpdateRateMs)
	}
}
