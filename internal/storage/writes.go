package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pable/combatlog/internal/model"
)

// CommitEncounter persists a completed encounter: the header row, the
// compressed entity blob, the dungeon segments, then the dirty identity
// cache and local-player blob. Fire-and-forget — failures are logged and
// the live pipeline never learns about them. Encounters that never saw
// combat (StartedAtMs == 0) are skipped.
func (db *DB) CommitEncounter(c model.EncounterCommit) {
	if c.Header.StartedAtMs == 0 {
		return
	}
	db.post(func(conn *sql.DB) {
		id, err := insertEncounter(conn, c)
		if err != nil {
			db.log.Error("commit encounter", "err", err)
			return
		}
		if err := upsertCachedEntities(conn, c.CachedEntities); err != nil {
			db.log.Error("flush entity cache", "err", err)
		}
		if len(c.PlayerData) > 0 {
			if err := upsertPlayerData(conn, c.PlayerDataID, c.PlayerData, c.LastSeenMs); err != nil {
				db.log.Error("flush player data", "err", err)
			}
		}
		db.log.Info("encounter committed", "id", id,
			"duration_secs", c.Header.DurationSecs, "total_dmg", model.SaturateInt64(c.Header.TotalDmg))
	})
}

func insertEncounter(conn *sql.DB, c model.EncounterCommit) (int64, error) {
	compressed, err := packEntities(c.Entities)
	if err != nil {
		return 0, err
	}
	bossNames, _ := json.Marshal(c.Header.BossNames)
	playerNames, _ := json.Marshal(c.Header.PlayerNames)

	tx, err := conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO encounters(
			started_at_ms, ended_at_ms, local_player_id,
			total_dmg, total_heal, scene_id, scene_name, duration_secs,
			is_favorite, is_manually_reset, boss_names, player_names
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Header.StartedAtMs, c.Header.EndedAtMs,
		strconv.FormatUint(c.Header.LocalPlayerID, 10),
		model.SaturateInt64(c.Header.TotalDmg), model.SaturateInt64(c.Header.TotalHeal),
		nullableSceneID(c.Header.SceneID), c.Header.SceneName, c.Header.DurationSecs,
		boolInt(c.Header.IsFavorite), boolInt(c.Header.IsManuallyReset),
		string(bossNames), string(playerNames),
	)
	if err != nil {
		return 0, fmt.Errorf("insert encounter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("encounter id: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO encounter_data(encounter_id, data) VALUES (?, ?)`, id, compressed); err != nil {
		return 0, fmt.Errorf("insert encounter_data: %w", err)
	}
	for i, seg := range c.Segments {
		_, err := tx.Exec(`
			INSERT INTO dungeon_segments(encounter_id, segment_idx, started_at_ms, ended_at_ms, segment_type, boss_name, scene_id, scene_name)
			VALUES (?,?,?,?,?,?,?,?)`,
			id, i, seg.StartedAtMs, seg.EndedAtMs, seg.Type.String(), seg.BossName,
			nullableSceneID(seg.SceneID), seg.SceneName,
		)
		if err != nil {
			return 0, fmt.Errorf("insert dungeon_segments: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// nullableSceneID maps the zero "unknown scene" sentinel to NULL.
func nullableSceneID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func upsertCachedEntities(conn *sql.DB, rows []model.CachedEntity) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := conn.Prepare(`
		INSERT INTO entities(entity_id, entity_type, name, class_id, class_spec, first_seen_ms, last_seen_ms)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			name = excluded.name,
			class_id = excluded.class_id,
			class_spec = excluded.class_spec,
			last_seen_ms = excluded.last_seen_ms`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		_, err := stmt.Exec(
			strconv.FormatUint(r.EntityID, 10), int(r.EntityType), r.Name,
			r.ClassID, r.ClassSpec, r.FirstSeenMs, r.LastSeenMs,
		)
		if err != nil {
			return fmt.Errorf("upsert entity %d: %w", r.EntityID, err)
		}
	}
	return nil
}

func upsertPlayerData(conn *sql.DB, playerID uint64, data []byte, lastSeenMs int64) error {
	_, err := conn.Exec(`
		INSERT INTO detailed_playerdata(player_id, last_seen_ms, data)
		VALUES (?,?,?)
		ON CONFLICT(player_id) DO UPDATE SET
			last_seen_ms = excluded.last_seen_ms,
			data = excluded.data`,
		strconv.FormatUint(playerID, 10), lastSeenMs, data)
	return err
}

// DeleteEncounters removes the given encounters; detail blobs and
// segments follow via ON DELETE CASCADE. A storage rejection is a hard
// failure surfaced to the caller.
func (db *DB) DeleteEncounters(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return db.run(func(conn *sql.DB) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		_, err := conn.Exec(`DELETE FROM encounters WHERE id IN (`+placeholders+`)`, args...)
		return err
	})
}

// SetFavorite toggles the favorite flag on one encounter.
func (db *DB) SetFavorite(id int64, favorite bool) error {
	return db.run(func(conn *sql.DB) error {
		res, err := conn.Exec(`UPDATE encounters SET is_favorite = ? WHERE id = ?`, boolInt(favorite), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("encounter %d not found", id)
		}
		return nil
	})
}

// SetRemoteID records the opaque remote identifier and upload timestamp
// for an encounter. Nothing in this module calls it; the upload
// integration does.
func (db *DB) SetRemoteID(id int64, remoteID string, uploadedAtMs int64) error {
	return db.run(func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE encounters SET remote_encounter_id = ?, uploaded_at_ms = ? WHERE id = ?`,
			remoteID, uploadedAtMs, id)
		return err
	})
}

// SetAppConfig stores one key/value pair.
func (db *DB) SetAppConfig(key, value string) error {
	return db.run(func(conn *sql.DB) error {
		_, err := conn.Exec(`
			INSERT INTO app_config(key, value) VALUES (?,?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
}
