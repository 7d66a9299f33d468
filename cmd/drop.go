package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/storage"
)

var dropForce bool

// dropCmd deletes stored encounters by id.
var dropCmd = &cobra.Command{
	Use:   "drop <id> [<id>...]",
	Short: "Delete stored encounters",
	Long:  "Permanently delete one or more encounters, including their detail blobs and dungeon segments.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDrop,
}

func init() {
	dropCmd.Flags().BoolVarP(&dropForce, "force", "f", false, "skip confirmation prompt")
}

func runDrop(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("encounter id %q: %w", a, err)
		}
		ids = append(ids, id)
	}
	if !dropForce {
		fmt.Fprintf(os.Stderr, "This will permanently delete %d encounter(s): %v\n", len(ids), ids)
		fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
		return nil
	}

	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	if err := db.DeleteEncounters(ids); err != nil {
		return fmt.Errorf("delete encounters: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Deleted %d encounter(s).\n", len(ids))
	return nil
}
