package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/storage"
)

var favOff bool

var favCmd = &cobra.Command{
	Use:   "fav <id>",
	Short: "Mark an encounter as favorite (or unmark with --off)",
	Args:  cobra.ExactArgs(1),
	RunE:  runFav,
}

func init() {
	favCmd.Flags().BoolVar(&favOff, "off", false, "remove the favorite flag")
}

func runFav(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("encounter id %q: %w", args[0], err)
	}
	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	if err := db.SetFavorite(id, !favOff); err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	if favOff {
		fmt.Fprintf(os.Stdout, "Encounter %d unmarked.\n", id)
	} else {
		fmt.Fprintf(os.Stdout, "Encounter %d marked as favorite.\n", id)
	}
	return nil
}
