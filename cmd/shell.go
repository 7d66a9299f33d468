package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pable/combatlog/internal/model"
	"github.com/pable/combatlog/internal/report"
	"github.com/pable/combatlog/internal/storage"
)

var errInterrupt = errors.New("interrupt")

var (
	cPrompt   = color.New(color.FgCyan, color.Bold)
	cMuted    = color.New(color.Faint)
	cError    = color.New(color.FgRed, color.Bold)
	cWarn     = color.New(color.FgYellow)
	cCmd      = color.New(color.FgYellow, color.Bold)
	cGreeting = color.New(color.Bold)
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive REPL session",
	Long:  "Open a persistent session against the encounter database. Type 'help' for available commands.",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func runShell(_ *cobra.Command, _ []string) error {
	db, err := storage.Open(dbPath, newLogger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	cGreeting.Println("combatlog shell")
	cMuted.Println("type 'help' or 'exit'")
	fmt.Println()

	fd := int(os.Stdin.Fd())
	isTTY := term.IsTerminal(fd)

	var history []string
	var scanner *bufio.Scanner
	if !isTTY {
		scanner = bufio.NewScanner(os.Stdin)
	}

	for {
		var line string
		if isTTY {
			line, err = readLine(history)
			if errors.Is(err, io.EOF) {
				fmt.Println()
				break
			}
			if err != nil { // Ctrl+C: redraw prompt and continue
				continue
			}
		} else {
			cPrompt.Print("combatlog")
			cMuted.Print("> ")
			if !scanner.Scan() {
				fmt.Println()
				break
			}
			line = strings.TrimSpace(scanner.Text())
		}

		if line == "" {
			continue
		}

		if isTTY && (len(history) == 0 || history[len(history)-1] != line) {
			history = append(history, line)
		}

		tokens := strings.Fields(line)
		cmd, args := tokens[0], tokens[1:]

		switch cmd {
		case "exit", "quit":
			return nil
		case "help":
			shellHelp()
		case "list":
			shellList(db, args)
		case "show":
			shellShow(db, args)
		case "players":
			shellPlayers(db, args)
		case "fav":
			shellFav(db, args, true)
		case "unfav":
			shellFav(db, args, false)
		case "drop":
			shellDrop(db, args)
		case "sql":
			shellSQL(db, args)
		default:
			cWarn.Fprintf(os.Stderr, "unknown command %q — type 'help'\n", cmd)
		}
	}
	return nil
}

// readLine prints the prompt and reads one line in raw terminal mode,
// supporting up/down arrow history navigation within the current session.
// Returns ("", io.EOF) on Ctrl+D or closed input, ("", errInterrupt) on Ctrl+C.
func readLine(hist []string) (string, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(fd, oldState) //nolint:errcheck

	var buf []byte
	histIdx := len(hist) // start past the end — the "new line" position
	var savedLine string // line saved before navigating into history

	redraw := func() {
		os.Stdout.WriteString("\r\x1b[K") // carriage-return + erase to EOL
		cPrompt.Fprint(os.Stdout, "combatlog")
		cMuted.Fprint(os.Stdout, "> ")
		os.Stdout.Write(buf)
	}
	redraw()

	b := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(b); err != nil {
			os.Stdout.WriteString("\r\n")
			return "", io.EOF
		}
		switch b[0] {
		case 3: // Ctrl+C
			os.Stdout.WriteString("\r\n")
			return "", errInterrupt
		case 4: // Ctrl+D — EOF only on empty line (bash behaviour)
			if len(buf) == 0 {
				os.Stdout.WriteString("\r\n")
				return "", io.EOF
			}
		case 13, 10: // Enter (CR or LF)
			line := strings.TrimSpace(string(buf))
			os.Stdout.WriteString("\r\n")
			return line, nil
		case 127, 8: // Backspace / DEL
			if len(buf) > 0 {
				_, size := utf8.DecodeLastRune(buf)
				buf = buf[:len(buf)-size]
				redraw()
			}
		case 27: // ESC — read the rest of the CSI sequence
			seq := make([]byte, 2)
			if _, err := os.Stdin.Read(seq[:1]); err != nil || seq[0] != '[' {
				continue
			}
			if _, err := os.Stdin.Read(seq[1:]); err != nil {
				continue
			}
			switch seq[1] {
			case 'A': // Up arrow
				if histIdx == len(hist) {
					savedLine = string(buf)
				}
				if histIdx > 0 {
					histIdx--
					buf = []byte(hist[histIdx])
					redraw()
				}
			case 'B': // Down arrow
				if histIdx < len(hist) {
					histIdx++
					if histIdx == len(hist) {
						buf = []byte(savedLine)
					} else {
						buf = []byte(hist[histIdx])
					}
					redraw()
				}
			}
		default:
			if b[0] >= 32 { // printable ASCII
				buf = append(buf, b[0])
				redraw()
			}
		}
	}
}

func shellHelp() {
	fmt.Println()
	type entry struct{ cmd, desc string }
	rows := []entry{
		{"list [--scene <s>] [--boss <b>] [--player <p>] [--favorites]", "list stored encounters"},
		{"show <id> [--player <uid>] [--metric dps|heal|tanked]", "display one encounter"},
		{"players [--search <substr>]", "recent players / name autocomplete"},
		{"fav <id> / unfav <id>", "toggle the favorite flag"},
		{"drop <id> [<id>...]", "delete encounters"},
		{"sql <query>", "raw SQL against the database"},
		{"help", "show this message"},
		{"exit / quit", "close the session"},
	}
	for _, r := range rows {
		fmt.Print("  ")
		cCmd.Print(r.cmd)
		fmt.Printf("  —  %s\n", r.desc)
	}
	fmt.Println()
}

// shellFlags splits args into positional arguments and --key value flag
// pairs. Names listed in boolFlags are treated as value-less boolean
// flags (e.g. --favorites sets flags["favorites"] = "true").
func shellFlags(args []string, boolFlags ...string) (positional []string, flags map[string]string) {
	flags = make(map[string]string)
	bools := make(map[string]bool, len(boolFlags))
	for _, b := range boolFlags {
		bools[b] = true
	}
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			key := args[i][2:]
			if bools[key] {
				flags[key] = "true"
			} else if i+1 < len(args) {
				i++
				flags[key] = args[i]
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return
}

func shellList(db *storage.DB, args []string) {
	_, flags := shellFlags(args, "favorites")
	list, err := db.ListEncounters(model.EncounterFilter{
		SceneNames:   splitFlag(flags["scene"]),
		BossNames:    splitFlag(flags["boss"]),
		PlayerNames:  splitFlag(flags["player"]),
		FavoriteOnly: flags["favorites"] == "true",
	})
	if err != nil {
		cError.Fprintf(os.Stderr, "list: %v\n", err)
		return
	}
	if len(list) == 0 {
		cMuted.Println("no encounters")
		return
	}
	report.PrintEncounterList(os.Stdout, list)
}

func shellShow(db *storage.DB, args []string) {
	pos, flags := shellFlags(args)
	if len(pos) == 0 {
		cError.Fprintln(os.Stderr, "usage: show <id> [--player <uid>] [--metric dps|heal|tanked]")
		return
	}
	id, err := strconv.ParseInt(pos[0], 10, 64)
	if err != nil {
		cError.Fprintf(os.Stderr, "bad id %q\n", pos[0])
		return
	}
	header, err := db.GetEncounter(id)
	if err != nil {
		cError.Fprintf(os.Stderr, "show: %v\n", err)
		return
	}
	actors, err := db.GetEncounterActorStats(id)
	if err != nil {
		cError.Fprintf(os.Stderr, "show: %v\n", err)
		return
	}
	segments, _ := db.GetEncounterSegments(id)
	report.PrintEncounterHeader(os.Stdout, header)
	report.PrintActorTable(os.Stdout, actors)
	report.PrintSegments(os.Stdout, segments)

	if v, ok := flags["player"]; ok {
		uid, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			cError.Fprintf(os.Stderr, "bad player uid %q\n", v)
			return
		}
		metric, err := parseMetric(flags["metric"])
		if err != nil {
			cError.Fprintf(os.Stderr, "%v\n", err)
			return
		}
		skills, err := db.GetPlayerSkills(id, uid, metric)
		if err != nil {
			cError.Fprintf(os.Stderr, "skills: %v\n", err)
			return
		}
		report.PrintSkillTable(os.Stdout, skills)
	}
}

func shellPlayers(db *storage.DB, args []string) {
	_, flags := shellFlags(args)
	if s, ok := flags["search"]; ok {
		hits, err := db.SearchPlayerNames(s)
		if err != nil {
			cError.Fprintf(os.Stderr, "search: %v\n", err)
			return
		}
		report.PrintRecentPlayers(os.Stdout, hits)
		return
	}
	players, err := db.GetRecentPlayers(20)
	if err != nil {
		cError.Fprintf(os.Stderr, "players: %v\n", err)
		return
	}
	report.PrintRecentPlayers(os.Stdout, players)
}

func shellFav(db *storage.DB, args []string, on bool) {
	if len(args) == 0 {
		cError.Fprintln(os.Stderr, "usage: fav <id>")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		cError.Fprintf(os.Stderr, "bad id %q\n", args[0])
		return
	}
	if err := db.SetFavorite(id, on); err != nil {
		cError.Fprintf(os.Stderr, "fav: %v\n", err)
		return
	}
	fmt.Printf("encounter %d favorite=%v\n", id, on)
}

func shellDrop(db *storage.DB, args []string) {
	if len(args) == 0 {
		cError.Fprintln(os.Stderr, "usage: drop <id> [<id>...]")
		return
	}
	var ids []int64
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			cError.Fprintf(os.Stderr, "bad id %q\n", a)
			return
		}
		ids = append(ids, id)
	}
	if err := db.DeleteEncounters(ids); err != nil {
		cError.Fprintf(os.Stderr, "drop: %v\n", err)
		return
	}
	fmt.Printf("deleted %d encounter(s)\n", len(ids))
}

func shellSQL(db *storage.DB, args []string) {
	if len(args) == 0 {
		cError.Fprintln(os.Stderr, "usage: sql <query>")
		return
	}
	cols, rows, err := db.QueryRaw(strings.Join(args, " "))
	if err != nil {
		cError.Fprintf(os.Stderr, "sql: %v\n", err)
		return
	}
	if len(rows) == 0 {
		cMuted.Println("(no rows)")
		return
	}
	report.PrintRawRows(os.Stdout, cols, rows)
}
