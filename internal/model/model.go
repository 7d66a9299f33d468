// Package model defines the core data types used throughout the pipeline:
// decoded packet payloads, the live per-entity and per-encounter state the
// aggregator maintains, and the records persisted to and read back from
// storage.
package model

import "github.com/google/uuid"

// EntityType classifies an Entity's role within an encounter.
type EntityType int

const (
	EntityUnknown EntityType = iota
	EntityCharacter
	EntityMonster
	EntityOther
)

// String returns a short label for the entity type.
func (t EntityType) String() string {
	switch t {
	case EntityCharacter:
		return "character"
	case EntityMonster:
		return "monster"
	case EntityOther:
		return "other"
	default:
		return "?"
	}
}

// HitCategory classifies a combat delta into one of the three per-use-type
// tables an Entity maintains.
type HitCategory int

const (
	CategoryDamage HitCategory = iota
	CategoryHeal
	CategoryTaken
)

// CombatStats holds cumulative counters over a stream of hits. All counters
// are monotonic within an encounter except on reset. Counters are uint64
// with saturating adds, so a pathological burst never wraps around to a
// small or negative value.
type CombatStats struct {
	Total     uint64
	Hits      uint64
	CritHits  uint64
	CritTotal uint64
	LuckyHits uint64
	LuckyTotal uint64
}

// saturatingAdd returns a+b, clamped to math.MaxUint64 instead of wrapping.
func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// AddHit records one hit of the given value into the stats, updating crit
// and lucky sub-totals independently: either, both, or neither may be set;
// they are not mutually exclusive.
func (c *CombatStats) AddHit(value uint64, isCrit, isLucky bool) {
	c.Hits = saturatingAdd(c.Hits, 1)
	c.Total = saturatingAdd(c.Total, value)
	if isCrit {
		c.CritHits = saturatingAdd(c.CritHits, 1)
		c.CritTotal = saturatingAdd(c.CritTotal, value)
	}
	if isLucky {
		c.LuckyHits = saturatingAdd(c.LuckyHits, 1)
		c.LuckyTotal = saturatingAdd(c.LuckyTotal, value)
	}
}

// SaturateInt64 converts a uint64 accumulator to a signed 64-bit surface
// value for storage/UI, saturating at math.MaxInt64 rather than wrapping
// into a negative number.
func SaturateInt64(v uint64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if v > uint64(maxInt64) {
		return maxInt64
	}
	return int64(v)
}

// Skill is a CombatStats keyed by skill_id within one of an Entity's three
// per-use-type tables.
type Skill struct {
	SkillID uint32
	Stats   CombatStats
}

// SkillTargetStats is a CombatStats plus an optional monster name captured
// at first observation, keyed by (skill_id, target_entity_id) within an
// owner's damage table.
type SkillTargetStats struct {
	SkillID      uint32
	TargetID     uint64
	MonsterName  string
	Stats        CombatStats
}

// AttrValueKind tags the payload carried by an AttrValue.
type AttrValueKind int

const (
	AttrInt AttrValueKind = iota
	AttrFloat
	AttrBytes
)

// AttrValue is a tagged union holding one of int64, float64, or []byte —
// the decoded form of a single numeric-attribute slot. Explicit
// variants are used instead of `any` so callers must type-switch
// deliberately rather than silently mis-assert.
type AttrValue struct {
	Kind  AttrValueKind
	Int   int64
	Float float64
	Bytes []byte
}

// IntAttr, FloatAttr, and BytesAttr are constructors for the three variants.
func IntAttr(v int64) AttrValue        { return AttrValue{Kind: AttrInt, Int: v} }
func FloatAttr(v float64) AttrValue     { return AttrValue{Kind: AttrFloat, Float: v} }
func BytesAttr(v []byte) AttrValue      { return AttrValue{Kind: AttrBytes, Bytes: v} }

// AsInt returns the value coerced to int64: the Int field directly for
// AttrInt, a truncated cast for AttrFloat, and 0 for AttrBytes.
func (v AttrValue) AsInt() int64 {
	switch v.Kind {
	case AttrInt:
		return v.Int
	case AttrFloat:
		return int64(v.Float)
	default:
		return 0
	}
}

// AsFloat returns the value coerced to float64.
func (v AttrValue) AsFloat() float64 {
	switch v.Kind {
	case AttrInt:
		return float64(v.Int)
	case AttrFloat:
		return v.Float
	default:
		return 0
	}
}

// Well-known attribute ids used by the aggregator and cooldown calculator.
// The full id space is opaque and game-defined; only the ids this module
// interprets are named here.
const (
	AttrCurrentHP uint32 = iota + 1
	AttrMaxHP
	AttrCritRate
	AttrLuckyRate
	AttrHaste
	AttrMastery
	AttrRankLevel
	AttrElementFlag
	AttrEnergyFlag
	AttrReductionLevel
	AttrSeasonStrength
	AttrSkillCDFixed      // attr_skill_cd: flat cooldown reduction in ms
	AttrSkillCDPercent    // attr_skill_cd_pct: percentage reduction, per-10000
	AttrCDAcceleratePct   // attr_cd_accelerate_pct: acceleration, per-10000
)

// Entity is the unit of aggregation: one actor (player or monster) tracked
// within a single encounter.
type Entity struct {
	EntityID   uint64
	EntityType EntityType
	Name       string
	ClassID    uint32
	ClassSpec  uint32
	AbilityScore int64

	// MonsterNamePacket holds the name observed from a monster-spawn packet
	// when Name is still empty.
	MonsterNamePacket string

	// IsBoss is a server-marked flag combined with EntityType to decide
	// scope for damage_boss_only and the Boundary Detector.
	IsBoss bool

	Attrs map[uint32]AttrValue

	Damage          CombatStats
	Heal            CombatStats
	Taken           CombatStats
	DamageBossOnly  CombatStats

	DamageSkills map[uint32]*Skill
	HealSkills   map[uint32]*Skill
	TakenSkills  map[uint32]*Skill

	// SkillDmgToTarget / SkillHealToTarget keyed by (skill_id, target_id).
	SkillDmgToTarget  map[SkillTargetKey]*SkillTargetStats
	SkillHealToTarget map[SkillTargetKey]*SkillTargetStats

	DmgToTarget map[uint64]uint64 // target_id -> cumulative damage

	// ActiveDmgTimeMs is the sum of inter-hit intervals, capped per gap,
	// used as the denominator of True-DPS.
	ActiveDmgTimeMs uint64
	lastDmgMs       int64 // 0 = unset; see ApplyActiveDamageTick
}

// SkillTargetKey is the composite key for per-(skill,target) tables.
type SkillTargetKey struct {
	SkillID  uint32
	TargetID uint64
}

// NewEntity returns an Entity with all maps initialized.
func NewEntity(id uint64) *Entity {
	return &Entity{
		EntityID:          id,
		Attrs:             make(map[uint32]AttrValue),
		DamageSkills:      make(map[uint32]*Skill),
		HealSkills:        make(map[uint32]*Skill),
		TakenSkills:       make(map[uint32]*Skill),
		SkillDmgToTarget:  make(map[SkillTargetKey]*SkillTargetStats),
		SkillHealToTarget: make(map[SkillTargetKey]*SkillTargetStats),
		DmgToTarget:       make(map[uint64]uint64),
	}
}

// ResetCombat zeroes every combat field while preserving identity and live
// attributes, for an encounter reset.
func (e *Entity) ResetCombat() {
	e.Damage = CombatStats{}
	e.Heal = CombatStats{}
	e.Taken = CombatStats{}
	e.DamageBossOnly = CombatStats{}
	e.DamageSkills = make(map[uint32]*Skill)
	e.HealSkills = make(map[uint32]*Skill)
	e.TakenSkills = make(map[uint32]*Skill)
	e.SkillDmgToTarget = make(map[SkillTargetKey]*SkillTargetStats)
	e.SkillHealToTarget = make(map[SkillTargetKey]*SkillTargetStats)
	e.DmgToTarget = make(map[uint64]uint64)
	e.ActiveDmgTimeMs = 0
	e.lastDmgMs = 0
}

// HasCombatActivity reports whether the entity dealt, healed, or took
// anything this encounter; persistence filters on this.
func (e *Entity) HasCombatActivity() bool {
	return e.Damage.Hits > 0 || e.Heal.Hits > 0 || e.Taken.Hits > 0
}

// ActiveDamageGapCapMs is the per-gap cap: any inter-hit
// gap longer than this does not count toward active damage time.
const ActiveDamageGapCapMs = 5000

// ApplyActiveDamageTick updates ActiveDmgTimeMs for a new damage hit at
// nowMs: add min(now-last, cap) iff a previous hit was
// recorded this encounter, then set last = now.
func (e *Entity) ApplyActiveDamageTick(nowMs int64) {
	if e.lastDmgMs != 0 {
		gap := nowMs - e.lastDmgMs
		if gap > ActiveDamageGapCapMs {
			gap = ActiveDamageGapCapMs
		}
		if gap > 0 {
			e.ActiveDmgTimeMs = saturatingAdd(e.ActiveDmgTimeMs, uint64(gap))
		}
	}
	e.lastDmgMs = nowMs
}

// CurrentHP and MaxHP read the live attribute map, defaulting to 0.
func (e *Entity) CurrentHP() int64 { return e.Attrs[AttrCurrentHP].AsInt() }
func (e *Entity) MaxHP() int64     { return e.Attrs[AttrMaxHP].AsInt() }

// DisplayName resolves the best available name for this entity; the caller
// applies the "(You)"/"#{uid}" dressing.
func (e *Entity) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	if e.MonsterNamePacket != "" {
		return e.MonsterNamePacket
	}
	return ""
}

// IsBossEntity reports whether the entity counts as a boss for scope and
// boundary purposes: a monster the server marked as a boss.
func (e *Entity) IsBossEntity() bool {
	return e.IsBoss && e.EntityType == EntityMonster
}

// ActiveBuff is a single applied buff instance, keyed by uuid for the
// lifetime of the buff.
type ActiveBuff struct {
	BuffUUID       uuid.UUID
	BaseID         uint32
	Layer          int32
	DurationMs     int64
	CreateTimeMs   int64 // server domain
	SourceConfigID uint32
}

// SkillCdState is per monitored skill-level-id cooldown state.
type SkillCdState struct {
	SkillLevelID      uint32
	BeginTimeMs       int64
	RawDurationMs     int64
	CdType            int32
	ValidCdTimeMs     int64
	ReceivedAtLocalMs int64
	CalculatedDurationMs int64
	CdAccelerateRate  float64
}

// SegmentType distinguishes dungeon segments.
type SegmentType int

const (
	SegmentTrash SegmentType = iota
	SegmentBoss
)

// String renders the segment type for display/persistence.
func (s SegmentType) String() string {
	if s == SegmentBoss {
		return "boss"
	}
	return "trash"
}

// Segment is one interval of a DungeonLog.
type Segment struct {
	StartedAtMs int64
	EndedAtMs   int64 // 0 while open
	Type        SegmentType
	BossName    string
	SceneID     int64
	SceneName   string
}

// DungeonLog is an ordered sequence of Segments for one encounter, with at
// most one open segment at a time.
type DungeonLog struct {
	Segments []Segment
}

// Open appends a new open segment, implicitly closing any previously open
// segment at startMs.
func (d *DungeonLog) Open(seg Segment) {
	d.closeOpen(seg.StartedAtMs)
	d.Segments = append(d.Segments, seg)
}

// closeOpen closes the currently open segment (if any) at endMs.
func (d *DungeonLog) closeOpen(endMs int64) {
	if n := len(d.Segments); n > 0 && d.Segments[n-1].EndedAtMs == 0 {
		d.Segments[n-1].EndedAtMs = endMs
	}
}

// Close closes the currently open segment at endMs, if one is open.
func (d *DungeonLog) Close(endMs int64) {
	d.closeOpen(endMs)
}

// Current returns a pointer to the currently open segment, or nil.
func (d *DungeonLog) Current() *Segment {
	if n := len(d.Segments); n > 0 && d.Segments[n-1].EndedAtMs == 0 {
		return &d.Segments[n-1]
	}
	return nil
}

// Clear empties the log on a scene reset.
func (d *DungeonLog) Clear() {
	d.Segments = d.Segments[:0]
}

// Encounter is the container of entities for one fight.
type Encounter struct {
	Entities map[uint64]*Entity

	TotalDmg         uint64
	TotalHeal        uint64
	TotalDmgBossOnly uint64

	TimeFightStartMs       int64
	TimeLastCombatPacketMs int64

	CurrentSceneID   int64
	CurrentSceneName string

	LocalPlayerUID uint64

	IsPaused bool

	// DefeatedBosses records boss names that have already emitted a
	// boss-death event this encounter, to suppress duplicates.
	DefeatedBosses map[uint64]string

	Subs SkillSubscriptionState
}

// SkillSubscriptionState holds the emission-gating configuration that
// travels with an Encounter so a reset can clear it uniformly.
type SkillSubscriptionState struct {
	SkillSubscriptions map[SkillSubscriptionKey]bool
	MonitoredBuffs     map[uint32]bool
	MonitorAllBuffs    bool
	BuffPriority       map[uint32]int
	MonitoredSkills    map[uint32]bool
}

// SkillSubscriptionKey identifies a (player, metric) pair gating skill
// window emission.
type SkillSubscriptionKey struct {
	PlayerUID  uint64
	MetricType MetricType
}

// MetricType enumerates the three ranking metrics used by players/skills
// windows.
type MetricType int

const (
	MetricDPS MetricType = iota
	MetricHeal
	MetricTanked
)

// String renders the metric type for event payloads.
func (m MetricType) String() string {
	switch m {
	case MetricHeal:
		return "heal"
	case MetricTanked:
		return "tanked"
	default:
		return "dps"
	}
}

// NewEncounter returns a zeroed Encounter with all maps initialized.
func NewEncounter() *Encounter {
	return &Encounter{
		Entities:       make(map[uint64]*Entity),
		DefeatedBosses: make(map[uint64]string),
		Subs: SkillSubscriptionState{
			SkillSubscriptions: make(map[SkillSubscriptionKey]bool),
			MonitoredBuffs:     make(map[uint32]bool),
			BuffPriority:       make(map[uint32]int),
			MonitoredSkills:    make(map[uint32]bool),
		},
	}
}

// EntityOrCreate returns the entity for id, creating a minimal-identity
// record if absent.
func (enc *Encounter) EntityOrCreate(id uint64) *Entity {
	if e, ok := enc.Entities[id]; ok {
		return e
	}
	e := NewEntity(id)
	enc.Entities[id] = e
	return e
}

// CachedEntity is the persistence identity cache scratchpad: a subset
// of Entity identity fields plus first/last-seen timestamps and a dirty
// flag, flushed to storage on encounter close.
type CachedEntity struct {
	EntityID     uint64
	EntityType   EntityType
	Name         string
	ClassID      uint32
	ClassSpec    uint32
	FirstSeenMs  int64
	LastSeenMs   int64
	Dirty        bool
}
