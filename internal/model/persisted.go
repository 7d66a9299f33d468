package model

// EncounterHeader is one row of the `encounters` table. ID is zero until
// assigned by storage.
type EncounterHeader struct {
	ID              int64
	StartedAtMs     int64
	EndedAtMs       int64
	LocalPlayerID   uint64
	TotalDmg        uint64
	TotalHeal       uint64
	SceneID         int64
	SceneName       string
	DurationSecs    float64
	IsFavorite      bool
	IsManuallyReset bool
	BossNames       []string
	PlayerNames     []string
	RemoteID        *string
	UploadedAtMs    *int64
}

// EncounterCommit is everything the aggregator hands the persistence
// writer when an encounter closes: the header, the live entity map (the
// writer filters and packs it), the dungeon segments, plus the dirty
// identity-cache rows and local-player blob to flush on success.
type EncounterCommit struct {
	Header         EncounterHeader
	Entities       map[uint64]*Entity
	Segments       []Segment
	CachedEntities []CachedEntity
	PlayerDataID   uint64
	PlayerData     []byte // nil when the local-player blob is clean
	LastSeenMs     int64
}

// ActorStats is one row of the per-actor breakdown produced by
// get_encounter_actor_stats.
type ActorStats struct {
	EntityID       uint64
	Name           string
	ClassID        uint32
	ClassSpec      uint32
	Damage         CombatStats
	Heal           CombatStats
	Taken          CombatStats
	DamageBossOnly CombatStats
	DPS            float64
	TrueDPS        float64
	IsLocalPlayer  bool
}

// EncounterEntityRow is one pre-formatted row of the full entity list of
// a historical encounter — characters and monsters alike — for the
// history UI's raw view.
type EncounterEntityRow struct {
	EntityID    uint64
	EntityType  EntityType
	Name        string
	IsBoss      bool
	DamageTotal uint64
	HealTotal   uint64
	TakenTotal  uint64
}

// EncounterFilter narrows list_recent_encounters.
type EncounterFilter struct {
	SceneNames  []string
	BossNames   []string
	PlayerNames []string
	FavoriteOnly bool
	StartMs     int64 // 0 = unbounded
	EndMs       int64 // 0 = unbounded
	Offset      int
	Limit       int
}

// PlayerSkillsHistorical is the response shape for get_player_skills
// against a historical encounter: the requested player's skill
// rows for one metric, plus the requested player's own aggregated row
// (CurrentPlayer).
type PlayerSkillsHistorical struct {
	EntityID     uint64
	MetricType   MetricType
	Skills       []SkillRow
	CurrentPlayer *ActorStats
}

// RecentPlayer is one row of get_recent_players, ordered by last_seen_ms
// descending.
type RecentPlayer struct {
	EntityID   uint64
	Name       string
	LastSeenMs int64
}
