package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/report"
	"github.com/pable/combatlog/internal/storage"
)

var (
	playersLimit  int
	playersSearch string
)

var playersCmd = &cobra.Command{
	Use:   "players",
	Short: "List recently seen players from the identity cache",
	Args:  cobra.NoArgs,
	RunE:  runPlayers,
}

func init() {
	playersCmd.Flags().IntVar(&playersLimit, "limit", 20, "max rows")
	playersCmd.Flags().StringVar(&playersSearch, "search", "", "name substring search (autocomplete, max 5)")
}

func runPlayers(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	if playersSearch != "" {
		hits, err := db.SearchPlayerNames(playersSearch)
		if err != nil {
			return fmt.Errorf("search players: %w", err)
		}
		if len(hits) == 0 {
			fmt.Fprintf(os.Stdout, "No players matching %q\n", playersSearch)
			return nil
		}
		report.PrintRecentPlayers(os.Stdout, hits)
		return nil
	}

	players, err := db.GetRecentPlayers(playersLimit)
	if err != nil {
		return fmt.Errorf("recent players: %w", err)
	}
	if len(players) == 0 {
		fmt.Fprintln(os.Stdout, "No players cached yet.")
		return nil
	}
	report.PrintRecentPlayers(os.Stdout, players)
	return nil
}
