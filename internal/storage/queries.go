package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pable/combatlog/internal/model"
)

const headerColumns = `
	id, started_at_ms, ended_at_ms, local_player_id,
	total_dmg, total_heal, scene_id, scene_name, duration_secs,
	is_favorite, is_manually_reset, boss_names, player_names,
	remote_encounter_id, uploaded_at_ms`

func scanHeader(scan func(dest ...any) error) (model.EncounterHeader, error) {
	var h model.EncounterHeader
	var localID, bossNames, playerNames string
	var sceneID sql.NullInt64
	var totalDmg, totalHeal int64
	var fav, manual int
	var remoteID sql.NullString
	var uploadedAt sql.NullInt64
	err := scan(
		&h.ID, &h.StartedAtMs, &h.EndedAtMs, &localID,
		&totalDmg, &totalHeal, &sceneID, &h.SceneName, &h.DurationSecs,
		&fav, &manual, &bossNames, &playerNames,
		&remoteID, &uploadedAt,
	)
	if err != nil {
		return h, err
	}
	h.LocalPlayerID, _ = strconv.ParseUint(localID, 10, 64)
	h.TotalDmg = uint64(totalDmg)
	h.TotalHeal = uint64(totalHeal)
	h.SceneID = sceneID.Int64
	h.IsFavorite = fav != 0
	h.IsManuallyReset = manual != 0
	_ = json.Unmarshal([]byte(bossNames), &h.BossNames)
	_ = json.Unmarshal([]byte(playerNames), &h.PlayerNames)
	if remoteID.Valid {
		h.RemoteID = &remoteID.String
	}
	if uploadedAt.Valid {
		h.UploadedAtMs = &uploadedAt.Int64
	}
	return h, nil
}

// ListEncounters returns encounter headers newest-first, narrowed by the
// filter. Name filters substring-match against the stored name blobs;
// offset/limit apply after all filters.
func (db *DB) ListEncounters(f model.EncounterFilter) ([]model.EncounterHeader, error) {
	var out []model.EncounterHeader
	err := db.run(func(conn *sql.DB) error {
		conds := "1=1"
		var args []any
		if len(f.SceneNames) > 0 {
			conds += ` AND scene_name IN (` + strings.TrimSuffix(strings.Repeat("?,", len(f.SceneNames)), ",") + `)`
			for _, s := range f.SceneNames {
				args = append(args, s)
			}
		}
		conds, args = addNameBlobFilter(conds, args, "boss_names", f.BossNames)
		conds, args = addNameBlobFilter(conds, args, "player_names", f.PlayerNames)
		if f.FavoriteOnly {
			conds += ` AND is_favorite = 1`
		}
		if f.StartMs > 0 {
			conds += ` AND started_at_ms >= ?`
			args = append(args, f.StartMs)
		}
		if f.EndMs > 0 {
			conds += ` AND started_at_ms <= ?`
			args = append(args, f.EndMs)
		}
		limit := f.Limit
		if limit <= 0 {
			limit = 50
		}
		args = append(args, limit, f.Offset)

		rows, err := conn.Query(`
			SELECT `+headerColumns+`
			FROM encounters
			WHERE `+conds+`
			ORDER BY started_at_ms DESC
			LIMIT ? OFFSET ?`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			h, err := scanHeader(rows.Scan)
			if err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	return out, err
}

// addNameBlobFilter ORs a substring match per requested name against a
// JSON name-array column.
func addNameBlobFilter(conds string, args []any, column string, names []string) (string, []any) {
	if len(names) == 0 {
		return conds, args
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = column + ` LIKE ?`
		args = append(args, "%"+n+"%")
	}
	return conds + ` AND (` + strings.Join(parts, " OR ") + `)`, args
}

// GetEncounter returns the header for one encounter.
func (db *DB) GetEncounter(id int64) (model.EncounterHeader, error) {
	var h model.EncounterHeader
	err := db.run(func(conn *sql.DB) error {
		row := conn.QueryRow(`SELECT `+headerColumns+` FROM encounters WHERE id = ?`, id)
		var err error
		h, err = scanHeader(row.Scan)
		if err == sql.ErrNoRows {
			return fmt.Errorf("encounter %d not found", id)
		}
		return err
	})
	return h, err
}

// GetEncounterActorStats decompresses the detail blob and produces one
// row per character entity with combat activity, sorted by damage
// descending. DPS uses the stored duration; True-DPS divides by the
// entity's active damage time, falling back to DPS when no active time
// was recorded.
func (db *DB) GetEncounterActorStats(id int64) ([]model.ActorStats, error) {
	header, stored, err := db.loadDetail(id)
	if err != nil {
		return nil, err
	}
	var out []model.ActorStats
	for _, se := range stored {
		if model.EntityType(se.EntityType) != model.EntityCharacter {
			continue
		}
		dmg := fromStoredCombat(se.Damage)
		dps := 0.0
		if header.DurationSecs > 0 {
			dps = float64(dmg.Total) / header.DurationSecs
		}
		tdps := dps
		if se.ActiveDmgTimeMs > 0 {
			tdps = float64(dmg.Total) * 1000 / float64(se.ActiveDmgTimeMs)
		}
		out = append(out, model.ActorStats{
			EntityID:       se.EntityID,
			Name:           se.displayName(),
			ClassID:        se.ClassID,
			ClassSpec:      se.ClassSpec,
			Damage:         dmg,
			Heal:           fromStoredCombat(se.Heal),
			Taken:          fromStoredCombat(se.Taken),
			DamageBossOnly: fromStoredCombat(se.DamageBossOnly),
			DPS:            dps,
			TrueDPS:        tdps,
			IsLocalPlayer:  se.EntityID == header.LocalPlayerID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Damage.Total > out[j].Damage.Total })
	return out, nil
}

// GetPlayerSkills reconstructs one player's skill table for a metric
// from a historical encounter, each row carrying its percent of that
// player's own total, plus the player's aggregate row.
func (db *DB) GetPlayerSkills(encounterID int64, entityID uint64, metric model.MetricType) (model.PlayerSkillsHistorical, error) {
	res := model.PlayerSkillsHistorical{EntityID: entityID, MetricType: metric}
	header, stored, err := db.loadDetail(encounterID)
	if err != nil {
		return res, err
	}
	var se *storedEntity
	for i := range stored {
		if stored[i].EntityID == entityID {
			se = &stored[i]
			break
		}
	}
	if se == nil {
		return res, fmt.Errorf("entity %d not found in encounter %d", entityID, encounterID)
	}

	var skills []storedSkill
	var ownerTotal int64
	switch metric {
	case model.MetricHeal:
		skills, ownerTotal = se.HealSkills, se.Heal.Total
	case model.MetricTanked:
		skills, ownerTotal = se.TakenSkills, se.Taken.Total
	default:
		skills, ownerTotal = se.DamageSkills, se.Damage.Total
	}
	for _, s := range skills {
		pct := 0.0
		if ownerTotal > 0 {
			pct = float64(s.Stats.Total) * 100 / float64(ownerTotal)
		}
		res.Skills = append(res.Skills, model.SkillRow{
			SkillID:        s.SkillID,
			Total:          uint64(s.Stats.Total),
			Hits:           uint64(s.Stats.Hits),
			CritHits:       uint64(s.Stats.CritHits),
			CritTotal:      uint64(s.Stats.CritTotal),
			LuckyHits:      uint64(s.Stats.LuckyHits),
			LuckyTotal:     uint64(s.Stats.LuckyTotal),
			PercentOfOwner: pct,
		})
	}
	sort.Slice(res.Skills, func(i, j int) bool { return res.Skills[i].Total > res.Skills[j].Total })

	dmg := fromStoredCombat(se.Damage)
	dps := 0.0
	if header.DurationSecs > 0 {
		dps = float64(dmg.Total) / header.DurationSecs
	}
	tdps := dps
	if se.ActiveDmgTimeMs > 0 {
		tdps = float64(dmg.Total) * 1000 / float64(se.ActiveDmgTimeMs)
	}
	res.CurrentPlayer = &model.ActorStats{
		EntityID:       se.EntityID,
		Name:           se.displayName(),
		ClassID:        se.ClassID,
		ClassSpec:      se.ClassSpec,
		Damage:         dmg,
		Heal:           fromStoredCombat(se.Heal),
		Taken:          fromStoredCombat(se.Taken),
		DamageBossOnly: fromStoredCombat(se.DamageBossOnly),
		DPS:            dps,
		TrueDPS:        tdps,
		IsLocalPlayer:  se.EntityID == header.LocalPlayerID,
	}
	return res, nil
}

// loadDetail fetches the header and the decompressed entity list for one
// encounter.
func (db *DB) loadDetail(id int64) (model.EncounterHeader, []storedEntity, error) {
	var header model.EncounterHeader
	var stored []storedEntity
	err := db.run(func(conn *sql.DB) error {
		row := conn.QueryRow(`SELECT `+headerColumns+` FROM encounters WHERE id = ?`, id)
		var err error
		header, err = scanHeader(row.Scan)
		if err == sql.ErrNoRows {
			return fmt.Errorf("encounter %d not found", id)
		}
		if err != nil {
			return err
		}
		var blob []byte
		if err := conn.QueryRow(`SELECT data FROM encounter_data WHERE encounter_id = ?`, id).Scan(&blob); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("encounter %d has no detail blob", id)
			}
			return err
		}
		stored, err = unpackEntities(blob)
		return err
	})
	return header, stored, err
}

// GetEncounterEntities returns every entity recorded in an encounter's
// detail blob — characters and monsters — as pre-formatted rows for the
// history UI, sorted by damage descending then entity id.
func (db *DB) GetEncounterEntities(id int64) ([]model.EncounterEntityRow, error) {
	_, stored, err := db.loadDetail(id)
	if err != nil {
		return nil, err
	}
	out := make([]model.EncounterEntityRow, 0, len(stored))
	for _, se := range stored {
		out = append(out, model.EncounterEntityRow{
			EntityID:    se.EntityID,
			EntityType:  model.EntityType(se.EntityType),
			Name:        se.displayName(),
			IsBoss:      se.IsBoss,
			DamageTotal: uint64(se.Damage.Total),
			HealTotal:   uint64(se.Heal.Total),
			TakenTotal:  uint64(se.Taken.Total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DamageTotal != out[j].DamageTotal {
			return out[i].DamageTotal > out[j].DamageTotal
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// GetEncounterSegments returns the persisted dungeon segments for an
// encounter, in order.
func (db *DB) GetEncounterSegments(encounterID int64) ([]model.Segment, error) {
	var out []model.Segment
	err := db.run(func(conn *sql.DB) error {
		rows, err := conn.Query(`
			SELECT started_at_ms, ended_at_ms, segment_type, boss_name, scene_id, scene_name
			FROM dungeon_segments WHERE encounter_id = ?
			ORDER BY segment_idx ASC`, encounterID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s model.Segment
			var segType string
			var sceneID sql.NullInt64
			if err := rows.Scan(&s.StartedAtMs, &s.EndedAtMs, &segType, &s.BossName, &sceneID, &s.SceneName); err != nil {
				return err
			}
			if segType == "boss" {
				s.Type = model.SegmentBoss
			}
			s.SceneID = sceneID.Int64
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// GetRecentPlayers returns cached character entities ordered by
// last-seen descending.
func (db *DB) GetRecentPlayers(limit int) ([]model.RecentPlayer, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.RecentPlayer
	err := db.run(func(conn *sql.DB) error {
		rows, err := conn.Query(`
			SELECT entity_id, name, last_seen_ms
			FROM entities WHERE entity_type = ?
			ORDER BY last_seen_ms DESC LIMIT ?`, int(model.EntityCharacter), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p model.RecentPlayer
			var idStr string
			if err := rows.Scan(&idStr, &p.Name, &p.LastSeenMs); err != nil {
				return err
			}
			p.EntityID, _ = strconv.ParseUint(idStr, 10, 64)
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// GetPlayerNameByUID looks up a cached entity name; empty when unknown.
func (db *DB) GetPlayerNameByUID(uid uint64) (string, error) {
	var name string
	err := db.run(func(conn *sql.DB) error {
		err := conn.QueryRow(`SELECT name FROM entities WHERE entity_id = ?`,
			strconv.FormatUint(uid, 10)).Scan(&name)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	return name, err
}

// SearchPlayerNames returns up to 5 cached character names containing
// the given substring, for autocomplete.
func (db *DB) SearchPlayerNames(prefix string) ([]model.RecentPlayer, error) {
	var out []model.RecentPlayer
	err := db.run(func(conn *sql.DB) error {
		rows, err := conn.Query(`
			SELECT entity_id, name, last_seen_ms
			FROM entities
			WHERE entity_type = ? AND name != '' AND name LIKE ?
			ORDER BY last_seen_ms DESC LIMIT 5`,
			int(model.EntityCharacter), "%"+prefix+"%")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p model.RecentPlayer
			var idStr string
			if err := rows.Scan(&idStr, &p.Name, &p.LastSeenMs); err != nil {
				return err
			}
			p.EntityID, _ = strconv.ParseUint(idStr, 10, 64)
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// GetUniqueBossNames returns the distinct boss names across all stored
// encounters, for filter dropdowns.
func (db *DB) GetUniqueBossNames() ([]string, error) {
	return db.uniqueNamesFromBlobs("boss_names")
}

// GetUniqueSceneNames returns the distinct scene names across all
// stored encounters.
func (db *DB) GetUniqueSceneNames() ([]string, error) {
	var out []string
	err := db.run(func(conn *sql.DB) error {
		rows, err := conn.Query(`SELECT DISTINCT scene_name FROM encounters WHERE scene_name != '' ORDER BY scene_name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

func (db *DB) uniqueNamesFromBlobs(column string) ([]string, error) {
	seen := make(map[string]bool)
	err := db.run(func(conn *sql.DB) error {
		rows, err := conn.Query(`SELECT ` + column + ` FROM encounters`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var blob string
			if err := rows.Scan(&blob); err != nil {
				return err
			}
			var names []string
			if json.Unmarshal([]byte(blob), &names) == nil {
				for _, n := range names {
					seen[n] = true
				}
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// LoadEntityCache returns every cached entity row, for the aggregator to
// preload at startup.
func (db *DB) LoadEntityCache() ([]model.CachedEntity, error) {
	var out []model.CachedEntity
	err := db.run(func(conn *sql.DB) error {
		rows, err := conn.Query(`
			SELECT entity_id, entity_type, name, class_id, class_spec, first_seen_ms, last_seen_ms
			FROM entities`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c model.CachedEntity
			var idStr string
			var entityType int
			if err := rows.Scan(&idStr, &entityType, &c.Name, &c.ClassID, &c.ClassSpec, &c.FirstSeenMs, &c.LastSeenMs); err != nil {
				return err
			}
			c.EntityID, _ = strconv.ParseUint(idStr, 10, 64)
			c.EntityType = model.EntityType(entityType)
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// GetAppConfig reads one config value; ok reports presence.
func (db *DB) GetAppConfig(key string) (value string, ok bool, err error) {
	err = db.run(func(conn *sql.DB) error {
		e := conn.QueryRow(`SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
		if e == sql.ErrNoRows {
			return nil
		}
		ok = e == nil
		return e
	})
	return value, ok, err
}

// QueryRaw executes an arbitrary SQL query and returns the column names
// and all row values as strings. NULL values are rendered as "NULL".
func (db *DB) QueryRaw(query string) (cols []string, rows [][]string, err error) {
	err = db.run(func(conn *sql.DB) error {
		r, err := conn.Query(query)
		if err != nil {
			return err
		}
		defer r.Close()

		cols, err = r.Columns()
		if err != nil {
			return err
		}
		for r.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := r.Scan(ptrs...); err != nil {
				return err
			}
			row := make([]string, len(cols))
			for i, v := range vals {
				if v == nil {
					row[i] = "NULL"
				} else {
					row[i] = fmt.Sprintf("%v", v)
				}
			}
			rows = append(rows, row)
		}
		return r.Err()
	})
	return cols, rows, err
}
