package model

// Packet is the tagged union of decoded inbound messages the aggregator
// accepts. The decoder — an external collaborator — is responsible for
// producing these; this module never parses wire bytes itself.
type Packet interface {
	packetKind()
}

// ServerChange commits the current encounter (if started) and clears all
// live state, including the Boundary Detector and subscriptions.
type ServerChange struct {
	AtMs int64
}

// EnterScene signals a scene transition. SceneGUID and the attribute
// sources feed the scene-id extraction order; Attrs/SubsceneAttrs
// carry the raw attribute slots to scan when the id isn't found in the
// GUID string.
type EnterScene struct {
	AtMs          int64
	SceneGUID     string
	Attrs         []RawAttr
	SubsceneAttrs []RawAttr
}

// RawAttr is one raw attribute slot as delivered by the decoder, prior to
// typed decoding: an id, an optional explicit kind marker, and the raw bytes.
type RawAttr struct {
	AttrID   uint32
	IsIDAttr bool // true when the decoder marks this slot as an id-typed attribute
	Raw      []byte
}

// EntitySpawn is one entity observed in a SyncNearEntities/SyncContainerData
// batch.
type EntitySpawn struct {
	EntityID    uint64
	EntityType  EntityType
	Name        string
	MonsterName string
	ClassID     uint32
	ClassSpec   uint32
	IsBoss      bool
	Attrs       []RawAttr
}

// SyncNearEntities creates or updates Entity records for nearby actors.
type SyncNearEntities struct {
	AtMs     int64
	Entities []EntitySpawn
}

// SyncContainerData additionally carries the local player's own payload and
// may update local-player identity fields.
type SyncContainerData struct {
	AtMs           int64
	Entities       []EntitySpawn
	LocalPlayerUID uint64
	RawPlayerData  []byte // opaque blob persisted into detailed_playerdata
}

// SyncContainerDirtyData applies incremental attribute updates to an
// existing entity without a full identity payload.
type SyncContainerDirtyData struct {
	AtMs     int64
	EntityID uint64
	Attrs    []RawAttr
}

// HitFlag classifies a combat delta into one of the three CombatStats
// categories an Entity maintains.
type HitFlag int

const (
	HitDamage HitFlag = iota
	HitHeal
	HitTaken
)

// CombatDelta is one hit: owner, target, skill, value, category, and the
// independent crit/lucky flags.
type CombatDelta struct {
	AtMs        int64
	OwnerID     uint64
	TargetID    uint64
	SkillID     uint32
	Value       uint64
	Flag        HitFlag
	Crit        bool
	Lucky       bool
	MonsterName string // target's monster name, if newly observed
}

// CooldownUpdate carries a raw cooldown observation for the Cooldown
// Calculator to recompute against.
type CooldownUpdate struct {
	AtMs          int64
	SkillLevelID  uint32
	BaseDurationMs int64
	CdType        int32
}

// BuffEventKind tags the logical buff envelope.
type BuffEventKind int

const (
	BuffAdd BuffEventKind = iota
	BuffChange
	BuffRemove
)

// BuffEvent is one decoded buff-effect payload.
type BuffEvent struct {
	AtMs           int64
	Kind           BuffEventKind
	EntityID       uint64
	BuffUUID       [16]byte
	BaseID         uint32
	Layer          int32
	DurationMs     int64
	CreateTimeMs   int64 // server domain
	SourceConfigID uint32
}

// SkillTempAttr is a per-skill temporary cooldown modifier delta: the
// fixed portion adds to the flat reduction, the percent portion to the
// per-10,000 reduction. Zero values clear the modifier.
type SkillTempAttr struct {
	SkillLevelID uint32
	FixedMs      int64
	Pct          int64
}

// SyncToMeDeltaInfo and SyncNearDeltaInfo are the hot-path delta packets:
// combat deltas, attribute deltas, cooldown updates, temporary-attribute
// deltas, and embedded buff events arriving together in one batch.
type SyncToMeDeltaInfo struct {
	AtMs      int64
	Deltas    []CombatDelta
	AttrDelta []EntityAttrDelta
	Cooldowns []CooldownUpdate
	TempAttrs []SkillTempAttr
	Buffs     []BuffEvent
	FightRes  map[string]float64
}

// SyncNearDeltaInfo is the near-entity counterpart of SyncToMeDeltaInfo.
type SyncNearDeltaInfo struct {
	AtMs      int64
	Deltas    []CombatDelta
	AttrDelta []EntityAttrDelta
	Buffs     []BuffEvent
}

// EntityAttrDelta is a batch of attribute updates for one entity.
type EntityAttrDelta struct {
	EntityID uint64
	Attrs    []RawAttr
}

// NotifyReviveUser restores the revived entity's HP-related attributes
// without touching combat totals.
type NotifyReviveUser struct {
	AtMs     int64
	EntityID uint64
	Attrs    []RawAttr
}

// DungeonState is the server-reported dungeon state enum. Its terminal
// "end" values are server-side constants not enumerated by this module;
// callers supply a predicate.
type DungeonState int32

// SyncDungeonData / SyncDungeonDirtyData drive the Battle State Machine
// with the objective id and dungeon state. ActiveBuffIDs is carried but not
// read; wipe detection reads the buff tracker instead.
type SyncDungeonData struct {
	AtMs          int64
	ObjectiveID   uint32
	State         DungeonState
	ActiveBuffIDs []uint32
}

type SyncDungeonDirtyData struct {
	AtMs          int64
	ObjectiveID   *uint32
	State         *DungeonState
	ActiveBuffIDs []uint32
}

// PauseEncounter toggles the paused flag; combat-bearing packets are
// dropped while paused.
type PauseEncounter struct {
	Paused bool
}

// ResetEncounter requests a reset; IsManual distinguishes a user-requested
// reset (which also resets the Battle State Machine) from an
// automatic one.
type ResetEncounter struct {
	IsManual bool
}

func (ServerChange) packetKind()           {}
func (EnterScene) packetKind()              {}
func (SyncNearEntities) packetKind()        {}
func (SyncContainerData) packetKind()       {}
func (SyncContainerDirtyData) packetKind()  {}
func (SyncToMeDeltaInfo) packetKind()       {}
func (SyncNearDeltaInfo) packetKind()       {}
func (NotifyReviveUser) packetKind()        {}
func (SyncDungeonData) packetKind()         {}
func (SyncDungeonDirtyData) packetKind()    {}
func (PauseEncounter) packetKind()          {}
func (ResetEncounter) packetKind()          {}

// Command is the tagged union of control messages from the UI/query
// surface.
type Command interface {
	commandKind()
}

type SubscribeSkill struct {
	PlayerUID  uint64
	MetricType MetricType
}

type UnsubscribeSkill struct {
	PlayerUID  uint64
	MetricType MetricType
}

type SetBossOnlyDPS struct{ Enabled bool }

type SetDungeonSegmentsEnabled struct{ Enabled bool }

type SetEventUpdateRateMs struct{ Ms int }

type SetMonitoredBuffs struct{ BaseIDs []uint32 }

type SetMonitoredSkills struct{ SkillLevelIDs []uint32 }

type SetMonitorAllBuff struct{ Enabled bool }

type SetBuffPriority struct{ Order []uint32 } // index is priority rank

type ApplySkillMonitorStartup struct {
	BuffBaseIDs   []uint32
	SkillLevelIDs []uint32
}

func (SubscribeSkill) commandKind()            {}
func (UnsubscribeSkill) commandKind()           {}
func (SetBossOnlyDPS) commandKind()             {}
func (SetDungeonSegmentsEnabled) commandKind()  {}
func (SetEventUpdateRateMs) commandKind()       {}
func (SetMonitoredBuffs) commandKind()          {}
func (SetMonitoredSkills) commandKind()         {}
func (SetMonitorAllBuff) commandKind()          {}
func (SetBuffPriority) commandKind()            {}
func (ApplySkillMonitorStartup) commandKind()   {}
func (PauseEncounter) commandKind()             {}
func (ResetEncounter) commandKind()             {}
