// Package aggregator owns the live encounter state. A single cooperative
// task consumes decoded packets and control commands from its queues,
// mutates the Encounter and its entities exclusively, runs the boundary
// checks, and publishes immutable snapshots to downstream consumers on a
// configurable cadence. No other goroutine ever touches the live state.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pable/combatlog/internal/attrs"
	"github.com/pable/combatlog/internal/battle"
	"github.com/pable/combatlog/internal/boundary"
	"github.com/pable/combatlog/internal/buff"
	"github.com/pable/combatlog/internal/cooldown"
	"github.com/pable/combatlog/internal/dungeon"
	"github.com/pable/combatlog/internal/model"
)

// Update-rate bounds and default.
const (
	DefaultUpdateRateMs = 200
	MinUpdateRateMs     = 50
	MaxUpdateRateMs     = 2000
)

// MaxMonitoredSkills caps the monitored skill-level-id set.
const MaxMonitoredSkills = 10

// maxBatch bounds how many queued packets are drained between two
// suspension points so commands and ticks are never starved.
const maxBatch = 256

// Event is one outbound UI event: the logical event name plus its typed
// payload.
type Event struct {
	Name    string
	Payload any
}

// Store is the slice of the persistence layer the aggregator drives.
// Commits are fire-and-forget: the writer logs failures and never blocks
// or aborts the live loop.
type Store interface {
	CommitEncounter(c model.EncounterCommit)
}

// Aggregator is the packet dispatcher and live-state owner. Construct
// with New, feed Packets and Commands, and drive with Run.
type Aggregator struct {
	log      *slog.Logger
	store    Store // may be nil: run without persistence
	registry attrs.SceneRegistry

	packets  chan model.Packet
	commands chan model.Command
	events   chan Event
	latest   chan model.EncounterUpdate

	enc      *model.Encounter
	cache    map[uint64]*model.CachedEntity
	cooldown *cooldown.Calculator
	buffs    *buff.Tracker
	battle   *battle.Machine
	boundary *boundary.Detector
	dungeon  *dungeon.Log

	updateRateMs int
	bossOnly     bool

	playerData      []byte
	playerDataID    uint64
	playerDataSeen  int64
	playerDataDirty bool

	pauseDropLogged bool

	// now supplies wall-clock milliseconds for the tick path; packet
	// handlers use packet timestamps. Overridable in tests.
	now func() int64
}

// New returns an Aggregator wired to the given logger, store, and scene
// registry. store and registry may be nil.
func New(log *slog.Logger, store Store, registry attrs.SceneRegistry) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = func(int64) bool { return false }
	}
	return &Aggregator{
		log:      log,
		store:    store,
		registry: registry,
		packets:  make(chan model.Packet, 4096),
		commands: make(chan model.Command, 256),
		events:   make(chan Event, 1024),
		latest:   make(chan model.EncounterUpdate, 1),
		enc:      model.NewEncounter(),
		cache:    make(map[uint64]*model.CachedEntity),
		cooldown: cooldown.New(),
		buffs:    buff.New(),
		battle:   battle.New(),
		boundary: boundary.New(),
		dungeon:  dungeon.New(),

		updateRateMs: DefaultUpdateRateMs,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
}

// Packets is the inbound decoded-packet queue.
func (a *Aggregator) Packets() chan<- model.Packet { return a.packets }

// Commands is the inbound control-command queue.
func (a *Aggregator) Commands() chan<- model.Command { return a.commands }

// Events is the outbound event stream. Sends never block the aggregator:
// when the consumer falls behind, events are dropped.
func (a *Aggregator) Events() <-chan Event { return a.events }

// Latest is the single-slot snapshot channel: a new encounter-update
// overwrites any unread predecessor, so readers always see the most
// recent snapshot and never block the writer.
func (a *Aggregator) Latest() <-chan model.EncounterUpdate { return a.latest }

// Battle exposes the battle state machine so the embedding process can
// install the dungeon-end and downed-buff predicates (their value sets
// are discovered empirically from the live packet stream).
func (a *Aggregator) Battle() *battle.Machine { return a.battle }

// SetEntityCache installs the identity cache preloaded from storage.
// Call before Run.
func (a *Aggregator) SetEntityCache(rows []model.CachedEntity) {
	for i := range rows {
		r := rows[i]
		r.Dirty = false
		a.cache[r.EntityID] = &r
	}
}

// Run drives the cooperative loop until ctx is cancelled: drain commands
// and packet batches, then emit on the tick timer. On shutdown any live
// encounter is committed.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(a.updateRateMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.commitCurrent(false)
			return
		case cmd := <-a.commands:
			before := a.updateRateMs
			a.applyCommand(cmd)
			if a.updateRateMs != before {
				ticker.Reset(time.Duration(a.updateRateMs) * time.Millisecond)
			}
		case p := <-a.packets:
			a.handlePacket(p)
			// Drain whatever else is queued, bounded, so one tick sees
			// the whole batch atomically.
			for i := 0; i < maxBatch; i++ {
				select {
				case p := <-a.packets:
					a.handlePacket(p)
				default:
					i = maxBatch
				}
			}
		case <-ticker.C:
			a.tick(a.now())
		}
	}
}

// applyCommand applies one control command to the live state.
func (a *Aggregator) applyCommand(c model.Command) {
	switch cmd := c.(type) {
	case model.SubscribeSkill:
		a.enc.Subs.SkillSubscriptions[model.SkillSubscriptionKey{PlayerUID: cmd.PlayerUID, MetricType: cmd.MetricType}] = true
	case model.UnsubscribeSkill:
		delete(a.enc.Subs.SkillSubscriptions, model.SkillSubscriptionKey{PlayerUID: cmd.PlayerUID, MetricType: cmd.MetricType})
	case model.SetBossOnlyDPS:
		a.bossOnly = cmd.Enabled
	case model.SetDungeonSegmentsEnabled:
		a.dungeon.SetEnabled(cmd.Enabled)
		if cmd.Enabled {
			a.dungeon.OnSceneReset(a.now(), a.enc.CurrentSceneID, a.enc.CurrentSceneName)
		}
	case model.SetEventUpdateRateMs:
		a.updateRateMs = clampRate(cmd.Ms)
	case model.SetMonitoredBuffs:
		a.enc.Subs.MonitoredBuffs = toSet(cmd.BaseIDs, 0)
	case model.SetMonitoredSkills:
		a.enc.Subs.MonitoredSkills = toSet(cmd.SkillLevelIDs, MaxMonitoredSkills)
	case model.SetMonitorAllBuff:
		a.enc.Subs.MonitorAllBuffs = cmd.Enabled
	case model.SetBuffPriority:
		prio := make(map[uint32]int, len(cmd.Order))
		for i, baseID := range cmd.Order {
			prio[baseID] = i
		}
		a.enc.Subs.BuffPriority = prio
	case model.ApplySkillMonitorStartup:
		a.enc.Subs.MonitoredBuffs = toSet(cmd.BuffBaseIDs, 0)
		a.enc.Subs.MonitoredSkills = toSet(cmd.SkillLevelIDs, MaxMonitoredSkills)
	case model.PauseEncounter:
		a.setPaused(cmd.Paused)
	case model.ResetEncounter:
		a.resetEncounter(cmd.IsManual, false)
	}
}

func clampRate(ms int) int {
	if ms < MinUpdateRateMs {
		return MinUpdateRateMs
	}
	if ms > MaxUpdateRateMs {
		return MaxUpdateRateMs
	}
	return ms
}

func toSet(ids []uint32, limit int) map[uint32]bool {
	set := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		if limit > 0 && len(set) >= limit {
			break
		}
		set[id] = true
	}
	return set
}

// setPaused flips the paused flag and announces the transition.
func (a *Aggregator) setPaused(paused bool) {
	if a.enc.IsPaused == paused {
		return
	}
	a.enc.IsPaused = paused
	a.pauseDropLogged = false
	a.publish(Event{Name: "pause-encounter", Payload: model.PauseEncounterEvent{Paused: paused}})
}

// resetEncounter applies the two reset shapes. segmentOnly selects the
// dungeon-segment shape: combat and buffs cleared but the fight-start
// timestamp kept so the full-run elapsed time stays accurate, and nothing
// is committed — the eventual full reset persists the whole run.
func (a *Aggregator) resetEncounter(isManual, segmentOnly bool) {
	if !segmentOnly {
		a.commitCurrent(isManual)
	}

	for _, e := range a.enc.Entities {
		e.ResetCombat()
	}
	a.enc.TotalDmg = 0
	a.enc.TotalHeal = 0
	a.enc.TotalDmgBossOnly = 0
	a.buffs.Reset()

	if !segmentOnly {
		a.enc.TimeFightStartMs = 0
		a.enc.TimeLastCombatPacketMs = 0
		a.enc.DefeatedBosses = make(map[uint64]string)
		a.enc.Subs.SkillSubscriptions = make(map[model.SkillSubscriptionKey]bool)
		a.boundary.Reset()
		if isManual {
			a.battle.Reset()
		} else {
			a.battle.RearmWipe()
		}
	}

	a.publish(Event{Name: "reset-encounter", Payload: model.ResetEncounterEvent{}})
	a.publishLatest(model.EncounterUpdate{IsPaused: a.enc.IsPaused})
}

// commitCurrent hands the live encounter to the persistence writer when
// it saw any combat. The writer owns the payload from here on; failures
// are its problem to log, never ours to propagate.
func (a *Aggregator) commitCurrent(isManual bool) {
	if a.store == nil || a.enc.TimeFightStartMs == 0 {
		return
	}
	endMs := a.enc.TimeLastCombatPacketMs
	a.dungeon.CloseAll(endMs)

	bossNames := make([]string, 0, len(a.enc.DefeatedBosses))
	for _, name := range a.enc.DefeatedBosses {
		bossNames = append(bossNames, name)
	}
	sort.Strings(bossNames)

	var playerNames []string
	entities := make(map[uint64]*model.Entity, len(a.enc.Entities))
	for id, e := range a.enc.Entities {
		entities[id] = e
		if e.EntityType == model.EntityCharacter && e.HasCombatActivity() {
			playerNames = append(playerNames, a.prettyName(e, false))
		}
	}
	sort.Strings(playerNames)

	commit := model.EncounterCommit{
		Header: model.EncounterHeader{
			StartedAtMs:     a.enc.TimeFightStartMs,
			EndedAtMs:       endMs,
			LocalPlayerID:   a.enc.LocalPlayerUID,
			TotalDmg:        a.enc.TotalDmg,
			TotalHeal:       a.enc.TotalHeal,
			SceneID:         a.enc.CurrentSceneID,
			SceneName:       a.enc.CurrentSceneName,
			DurationSecs:    float64(endMs-a.enc.TimeFightStartMs) / 1000,
			IsManuallyReset: isManual,
			BossNames:       bossNames,
			PlayerNames:     playerNames,
		},
		Entities: entities,
		Segments: append([]model.Segment(nil), a.dungeon.Segments()...),
	}
	for _, c := range a.cache {
		if c.Dirty {
			commit.CachedEntities = append(commit.CachedEntities, *c)
			c.Dirty = false
		}
	}
	if a.playerDataDirty && len(a.playerData) > 0 {
		commit.PlayerDataID = a.playerDataID
		commit.PlayerData = a.playerData
		commit.LastSeenMs = a.playerDataSeen
		a.playerDataDirty = false
	}
	a.store.CommitEncounter(commit)
	a.dungeon.Clear()
}

// publish sends an event without ever blocking the loop; a full consumer
// loses the event. Emission is best-effort.
func (a *Aggregator) publish(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Debug("event dropped", "event", ev.Name)
	}
}

// publishLatest overwrites the single-slot snapshot channel.
func (a *Aggregator) publishLatest(u model.EncounterUpdate) {
	select {
	case a.latest <- u:
	default:
		select {
		case <-a.latest:
		default:
		}
		select {
		case a.latest <- u:
		default:
		}
	}
}
