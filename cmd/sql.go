package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/report"
	"github.com/pable/combatlog/internal/storage"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the encounter database",
	Long: `Run an arbitrary SQL query against the encounter database and print results as a table.

Schema overview:
  encounters(id, started_at_ms, ended_at_ms, local_player_id TEXT, total_dmg,
    total_heal, scene_id, scene_name, duration_secs, is_favorite,
    is_manually_reset, boss_names, player_names, remote_encounter_id, uploaded_at_ms)
  encounter_data(encounter_id, data BLOB)
  dungeon_segments(encounter_id, segment_idx, started_at_ms, ended_at_ms,
    segment_type, boss_name, scene_id, scene_name)
  entities(entity_id TEXT, entity_type, name, class_id, class_spec,
    first_seen_ms, last_seen_ms)
  detailed_playerdata(player_id TEXT, last_seen_ms, data BLOB)
  app_config(key, value)

Note: entity ids are stored as TEXT. Use quotes: WHERE entity_id = '900'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cols, rows, err := db.QueryRaw(query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}
	report.PrintRawRows(os.Stdout, cols, rows)
	return nil
}
