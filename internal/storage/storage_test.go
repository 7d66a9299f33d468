package storage

import (
	"log/slog"
	"testing"

	"github.com/pable/combatlog/internal/model"
)

func openMemDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// makePlayer builds a character entity with one damage skill and one
// target, all consistent.
func makePlayer(uid uint64, name string, total uint64, hits uint64) *model.Entity {
	e := model.NewEntity(uid)
	e.EntityType = model.EntityCharacter
	e.Name = name
	e.ClassID = 7
	for i := uint64(0); i < hits; i++ {
		e.Damage.AddHit(total/hits, false, false)
	}
	e.DamageSkills[55] = &model.Skill{SkillID: 55, Stats: e.Damage}
	e.DmgToTarget[900] = e.Damage.Total
	e.SkillDmgToTarget[model.SkillTargetKey{SkillID: 55, TargetID: 900}] = &model.SkillTargetStats{
		SkillID: 55, TargetID: 900, MonsterName: "Gravelord", Stats: e.Damage,
	}
	e.ActiveDmgTimeMs = 5000
	return e
}

func commitFixture(t *testing.T, db *DB) model.EncounterCommit {
	t.Helper()
	alice := makePlayer(1, "Alice", 1_000_000, 100)
	bob := makePlayer(2, "Bob", 400_000, 40)
	idle := model.NewEntity(3) // no combat: filtered out of the blob
	idle.EntityType = model.EntityCharacter

	c := model.EncounterCommit{
		Header: model.EncounterHeader{
			StartedAtMs:   1000,
			EndedAtMs:     11_000,
			LocalPlayerID: 1,
			TotalDmg:      1_400_000,
			SceneID:       1001,
			SceneName:     "Sunken Crypt",
			DurationSecs:  10,
			BossNames:     []string{"Gravelord"},
			PlayerNames:   []string{"Alice", "Bob"},
		},
		Entities: map[uint64]*model.Entity{1: alice, 2: bob, 3: idle},
		Segments: []model.Segment{
			{StartedAtMs: 1000, EndedAtMs: 4000, Type: model.SegmentTrash, SceneID: 1001, SceneName: "Sunken Crypt"},
			{StartedAtMs: 4000, EndedAtMs: 11_000, Type: model.SegmentBoss, BossName: "Gravelord", SceneID: 1001, SceneName: "Sunken Crypt"},
		},
		CachedEntities: []model.CachedEntity{
			{EntityID: 1, EntityType: model.EntityCharacter, Name: "Alice", ClassID: 7, FirstSeenMs: 500, LastSeenMs: 11_000},
			{EntityID: 2, EntityType: model.EntityCharacter, Name: "Bob", FirstSeenMs: 500, LastSeenMs: 10_000},
		},
		PlayerDataID: 1,
		PlayerData:   []byte{0xde, 0xad},
		LastSeenMs:   11_000,
	}
	db.CommitEncounter(c)
	db.Flush()
	return c
}

// Round-trip property: derived totals read back equal the live totals at
// write time.
func TestCommitAndReadBack(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)

	list, err := db.ListEncounters(model.EncounterFilter{})
	if err != nil {
		t.Fatalf("ListEncounters: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("encounters = %d, want 1", len(list))
	}
	h := list[0]
	if h.TotalDmg != 1_400_000 || h.SceneName != "Sunken Crypt" || h.DurationSecs != 10 {
		t.Errorf("header %+v", h)
	}
	if len(h.BossNames) != 1 || h.BossNames[0] != "Gravelord" {
		t.Errorf("boss names %v", h.BossNames)
	}

	got, err := db.GetEncounter(h.ID)
	if err != nil {
		t.Fatalf("GetEncounter: %v", err)
	}
	if got.LocalPlayerID != 1 || got.StartedAtMs != 1000 {
		t.Errorf("GetEncounter header %+v", got)
	}

	actors, err := db.GetEncounterActorStats(h.ID)
	if err != nil {
		t.Fatalf("GetEncounterActorStats: %v", err)
	}
	if len(actors) != 2 {
		t.Fatalf("actors = %d, want 2 (idle entity filtered)", len(actors))
	}
	// Sorted by damage descending: Alice first.
	if actors[0].Name != "Alice" || actors[0].Damage.Total != 1_000_000 {
		t.Errorf("actor[0] %+v", actors[0])
	}
	if !actors[0].IsLocalPlayer || actors[1].IsLocalPlayer {
		t.Errorf("local-player flags wrong")
	}
	// DPS = damage / stored duration; True-DPS = damage*1000/active.
	if actors[0].DPS != 100_000 {
		t.Errorf("DPS = %f, want 100000", actors[0].DPS)
	}
	if actors[0].TrueDPS != 200_000 {
		t.Errorf("TrueDPS = %f, want 200000", actors[0].TrueDPS)
	}
}

func TestGetPlayerSkills(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)

	res, err := db.GetPlayerSkills(1, 1, model.MetricDPS)
	if err != nil {
		t.Fatalf("GetPlayerSkills: %v", err)
	}
	if len(res.Skills) != 1 {
		t.Fatalf("skills = %d, want 1", len(res.Skills))
	}
	s := res.Skills[0]
	if s.SkillID != 55 || s.Total != 1_000_000 || s.Hits != 100 {
		t.Errorf("skill row %+v", s)
	}
	if s.PercentOfOwner != 100 {
		t.Errorf("percent-of-owner = %f, want 100", s.PercentOfOwner)
	}
	if res.CurrentPlayer == nil || res.CurrentPlayer.Name != "Alice" {
		t.Errorf("aggregate row %+v", res.CurrentPlayer)
	}

	if _, err := db.GetPlayerSkills(1, 999, model.MetricDPS); err == nil {
		t.Error("expected error for unknown entity")
	}
}

func TestListFilters(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)

	// Second encounter: different scene, no bosses, later.
	db.CommitEncounter(model.EncounterCommit{
		Header: model.EncounterHeader{
			StartedAtMs: 50_000, EndedAtMs: 60_000, SceneName: "Ash Plateau",
			PlayerNames: []string{"Carol"}, DurationSecs: 10,
		},
		Entities: map[uint64]*model.Entity{4: makePlayer(4, "Carol", 1000, 1)},
	})
	db.Flush()

	all, _ := db.ListEncounters(model.EncounterFilter{})
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
	// Newest first.
	if all[0].SceneName != "Ash Plateau" {
		t.Errorf("order: got %s first", all[0].SceneName)
	}

	byScene, _ := db.ListEncounters(model.EncounterFilter{SceneNames: []string{"Sunken Crypt"}})
	if len(byScene) != 1 || byScene[0].SceneName != "Sunken Crypt" {
		t.Errorf("scene filter: %+v", byScene)
	}
	byBoss, _ := db.ListEncounters(model.EncounterFilter{BossNames: []string{"Gravelord"}})
	if len(byBoss) != 1 {
		t.Errorf("boss filter: %d rows", len(byBoss))
	}
	byPlayer, _ := db.ListEncounters(model.EncounterFilter{PlayerNames: []string{"Carol"}})
	if len(byPlayer) != 1 || byPlayer[0].SceneName != "Ash Plateau" {
		t.Errorf("player filter: %+v", byPlayer)
	}
	byDate, _ := db.ListEncounters(model.EncounterFilter{StartMs: 20_000})
	if len(byDate) != 1 || byDate[0].StartedAtMs != 50_000 {
		t.Errorf("date filter: %+v", byDate)
	}
	paged, _ := db.ListEncounters(model.EncounterFilter{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].SceneName != "Sunken Crypt" {
		t.Errorf("paging: %+v", paged)
	}
}

func TestFavoriteAndDelete(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)
	list, _ := db.ListEncounters(model.EncounterFilter{})
	id := list[0].ID

	if err := db.SetFavorite(id, true); err != nil {
		t.Fatalf("SetFavorite: %v", err)
	}
	favs, _ := db.ListEncounters(model.EncounterFilter{FavoriteOnly: true})
	if len(favs) != 1 {
		t.Errorf("favorites = %d, want 1", len(favs))
	}
	if err := db.SetFavorite(9999, true); err == nil {
		t.Error("SetFavorite on missing id should fail")
	}

	if err := db.DeleteEncounters([]int64{id}); err != nil {
		t.Fatalf("DeleteEncounters: %v", err)
	}
	after, _ := db.ListEncounters(model.EncounterFilter{})
	if len(after) != 0 {
		t.Errorf("encounters after delete = %d", len(after))
	}
	// Cascade: detail blob and segments gone too.
	if _, err := db.GetEncounterActorStats(id); err == nil {
		t.Error("detail blob survived delete")
	}
	segs, err := db.GetEncounterSegments(id)
	if err != nil || len(segs) != 0 {
		t.Errorf("segments after delete: %d, err %v", len(segs), err)
	}
}

func TestSegmentsRoundTrip(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)
	list, _ := db.ListEncounters(model.EncounterFilter{})

	segs, err := db.GetEncounterSegments(list[0].ID)
	if err != nil {
		t.Fatalf("GetEncounterSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	if segs[0].Type != model.SegmentTrash || segs[1].Type != model.SegmentBoss {
		t.Errorf("segment types %v/%v", segs[0].Type, segs[1].Type)
	}
	if segs[1].BossName != "Gravelord" || segs[1].StartedAtMs != 4000 {
		t.Errorf("boss segment %+v", segs[1])
	}
}

func TestEntityCacheAndSearch(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)

	cache, err := db.LoadEntityCache()
	if err != nil {
		t.Fatalf("LoadEntityCache: %v", err)
	}
	if len(cache) != 2 {
		t.Fatalf("cache = %d, want 2", len(cache))
	}

	recent, _ := db.GetRecentPlayers(10)
	if len(recent) != 2 || recent[0].Name != "Alice" {
		t.Errorf("recent players %+v (want Alice first by last_seen)", recent)
	}
	name, _ := db.GetPlayerNameByUID(2)
	if name != "Bob" {
		t.Errorf("name by uid = %q", name)
	}
	hits, _ := db.SearchPlayerNames("li")
	if len(hits) != 1 || hits[0].Name != "Alice" {
		t.Errorf("search %+v", hits)
	}
	none, _ := db.SearchPlayerNames("zzz")
	if len(none) != 0 {
		t.Errorf("search miss returned %+v", none)
	}
}

func TestGetEncounterEntities(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)
	list, _ := db.ListEncounters(model.EncounterFilter{})

	rows, err := db.GetEncounterEntities(list[0].ID)
	if err != nil {
		t.Fatalf("GetEncounterEntities: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Name != "Alice" || rows[0].DamageTotal != 1_000_000 {
		t.Errorf("row[0] %+v", rows[0])
	}
	if rows[1].EntityType != model.EntityCharacter {
		t.Errorf("row[1] type %v", rows[1].EntityType)
	}
}

func TestSkipCommitWithoutCombat(t *testing.T) {
	db := openMemDB(t)
	db.CommitEncounter(model.EncounterCommit{Header: model.EncounterHeader{StartedAtMs: 0}})
	db.Flush()
	list, _ := db.ListEncounters(model.EncounterFilter{})
	if len(list) != 0 {
		t.Errorf("zero-start encounter was persisted")
	}
}

func TestAppConfig(t *testing.T) {
	db := openMemDB(t)
	if err := db.SetAppConfig("update_rate_ms", "200"); err != nil {
		t.Fatalf("SetAppConfig: %v", err)
	}
	if err := db.SetAppConfig("update_rate_ms", "500"); err != nil {
		t.Fatalf("SetAppConfig update: %v", err)
	}
	v, ok, err := db.GetAppConfig("update_rate_ms")
	if err != nil || !ok || v != "500" {
		t.Errorf("GetAppConfig = %q/%v/%v", v, ok, err)
	}
	_, ok, _ = db.GetAppConfig("missing")
	if ok {
		t.Error("missing key reported present")
	}
}

func TestSetRemoteID(t *testing.T) {
	db := openMemDB(t)
	commitFixture(t, db)
	list, _ := db.ListEncounters(model.EncounterFilter{})
	id := list[0].ID

	if err := db.SetRemoteID(id, "r-abc123", 99_000); err != nil {
		t.Fatalf("SetRemoteID: %v", err)
	}
	h, _ := db.GetEncounter(id)
	if h.RemoteID == nil || *h.RemoteID != "r-abc123" {
		t.Errorf("remote id %+v", h.RemoteID)
	}
	if h.UploadedAtMs == nil || *h.UploadedAtMs != 99_000 {
		t.Errorf("uploaded at %+v", h.UploadedAtMs)
	}
}
