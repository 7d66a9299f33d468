package model

import "github.com/google/uuid"

// EncounterUpdate is the `encounter-update` event payload: the
// snapshot header plus the paused flag.
type EncounterUpdate struct {
	Header   HeaderInfo
	IsPaused bool
}

// HeaderInfo is the per-tick snapshot header.
type HeaderInfo struct {
	TotalDPS       float64
	TotalDmg       uint64
	ElapsedMs      int64
	FightStartMs   int64
	BossHealth     []BossHealth
	SceneID        int64
	SceneName      string
	SegmentType    SegmentType
	SegmentName    string
	HasSegment     bool
}

// BossHealth is one boss's live HP reading surfaced in the header.
type BossHealth struct {
	EntityID   uint64
	Name       string
	CurrentHP  int64
	MaxHP      int64
	HPPercent  float64
}

// PlayersUpdate is the `players-update` event payload: a ranked window for
// one metric type.
type PlayersUpdate struct {
	MetricType    MetricType
	PlayersWindow []PlayerRow
}

// PlayerRow is one ranked entry in a players window.
type PlayerRow struct {
	EntityID       uint64
	Name           string
	ClassID        uint32
	ClassSpec      uint32
	AbilityScore   int64
	Total          uint64
	PerSecond      float64
	ActiveTimeMs   uint64
	PercentOfScope float64
	CritRate       float64
	LuckyRate      float64
	CurrentHP      int64
	MaxHP          int64
	IsLocalPlayer  bool
}

// SkillsUpdate is the `skills-update` event payload: per-skill breakdown
// for one player and metric, gated by subscription.
type SkillsUpdate struct {
	MetricType   MetricType
	PlayerUID    uint64
	SkillsWindow []SkillRow
}

// SkillRow is one ranked skill entry within a SkillsUpdate.
type SkillRow struct {
	SkillID        uint32
	Total          uint64
	Hits           uint64
	CritHits       uint64
	CritTotal      uint64
	LuckyHits      uint64
	LuckyTotal     uint64
	PercentOfOwner float64
}

// BuffUpdate is the `buff-update` event payload: the ordered, filtered
// buff list.
type BuffUpdate struct {
	Buffs []BuffRow
}

// BuffRow is one emitted buff entry, with CreateTimeMs already translated
// to the local clock domain.
type BuffRow struct {
	BuffUUID     uuid.UUID
	BaseID       uint32
	Layer        int32
	DurationMs   int64
	CreateTimeMs int64
	EntityID     uint64
}

// SkillCdUpdate is the `skill-cd-update` event payload: cooldown states
// filtered by the monitored set.
type SkillCdUpdate struct {
	SkillCds []SkillCdRow
}

// SkillCdRow is one emitted cooldown state.
type SkillCdRow struct {
	SkillLevelID        uint32
	BeginTimeMs         int64
	CalculatedDurationMs int64
	CdAccelerateRate    float64
}

// FightResUpdate is the `fight-res-update` event payload: arbitrary
// named fight-resource values plus the local receipt timestamp.
type FightResUpdate struct {
	Values     map[string]float64
	ReceivedAt int64
}

// ResetEncounterEvent is the `reset-encounter` event: no payload.
type ResetEncounterEvent struct{}

// PauseEncounterEvent is the `pause-encounter` event payload.
type PauseEncounterEvent struct {
	Paused bool
}

// SceneChangeEvent is the `scene-change` event payload.
type SceneChangeEvent struct {
	SceneName string
}

// BossDeathEvent is the `boss-death` event payload, fired at most once per
// (encounter, boss_uid).
type BossDeathEvent struct {
	BossName string
	EntityID uint64
}

// DungeonLogSnapshot is the dungeon-log snapshot emitted when segmentation
// is enabled.
type DungeonLogSnapshot struct {
	Segments []Segment
}
