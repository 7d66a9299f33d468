package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/model"
	"github.com/pable/combatlog/internal/report"
	"github.com/pable/combatlog/internal/storage"
)

var (
	showPlayerUID uint64
	showMetric    string
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored encounter's actor breakdown",
	Long: `Display one encounter: header, per-actor stats, and dungeon segments.
With --player, additionally print that player's skill breakdown for the
metric selected by --metric (dps, heal, tanked).`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().Uint64Var(&showPlayerUID, "player", 0, "print skill breakdown for this entity uid")
	showCmd.Flags().StringVar(&showMetric, "metric", "dps", "skill metric: dps, heal, or tanked")
}

func parseMetric(s string) (model.MetricType, error) {
	switch s {
	case "dps", "":
		return model.MetricDPS, nil
	case "heal":
		return model.MetricHeal, nil
	case "tanked":
		return model.MetricTanked, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (want dps, heal, or tanked)", s)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("encounter id %q: %w", args[0], err)
	}
	metric, err := parseMetric(showMetric)
	if err != nil {
		return err
	}

	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	header, err := db.GetEncounter(id)
	if err != nil {
		return fmt.Errorf("get encounter: %w", err)
	}
	actors, err := db.GetEncounterActorStats(id)
	if err != nil {
		return fmt.Errorf("get actor stats: %w", err)
	}
	segments, err := db.GetEncounterSegments(id)
	if err != nil {
		return fmt.Errorf("get segments: %w", err)
	}

	report.PrintEncounterHeader(os.Stdout, header)
	report.PrintActorTable(os.Stdout, actors)
	report.PrintSegments(os.Stdout, segments)

	if showPlayerUID != 0 {
		skills, err := db.GetPlayerSkills(id, showPlayerUID, metric)
		if err != nil {
			return fmt.Errorf("get player skills: %w", err)
		}
		report.PrintSkillTable(os.Stdout, skills)
	}
	return nil
}
