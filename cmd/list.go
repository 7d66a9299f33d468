package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/model"
	"github.com/pable/combatlog/internal/report"
	"github.com/pable/combatlog/internal/storage"
)

var (
	listScene    string
	listBoss     string
	listPlayer   string
	listFavs     bool
	listSinceMs  int64
	listUntilMs  int64
	listLimit    int
	listOffset   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored encounters",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listScene, "scene", "", "filter by scene name(s), comma-separated")
	listCmd.Flags().StringVar(&listBoss, "boss", "", "filter by boss name substring(s), comma-separated")
	listCmd.Flags().StringVar(&listPlayer, "player", "", "filter by player name substring(s), comma-separated")
	listCmd.Flags().BoolVar(&listFavs, "favorites", false, "only favorites")
	listCmd.Flags().Int64Var(&listSinceMs, "since", 0, "only encounters started at or after this epoch-ms")
	listCmd.Flags().Int64Var(&listUntilMs, "until", 0, "only encounters started at or before this epoch-ms")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "max rows")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "rows to skip")
}

func splitFlag(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	list, err := db.ListEncounters(model.EncounterFilter{
		SceneNames:   splitFlag(listScene),
		BossNames:    splitFlag(listBoss),
		PlayerNames:  splitFlag(listPlayer),
		FavoriteOnly: listFavs,
		StartMs:      listSinceMs,
		EndMs:        listUntilMs,
		Limit:        listLimit,
		Offset:       listOffset,
	})
	if err != nil {
		return fmt.Errorf("list encounters: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "No encounters stored yet. Run 'combatlog live' against a packet stream to record some.")
		return nil
	}
	report.PrintEncounterList(os.Stdout, list)
	return nil
}
