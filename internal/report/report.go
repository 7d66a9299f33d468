// Package report formats encounter summaries, actor breakdowns, and
// skill tables as terminal tables using tablewriter.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pable/combatlog/internal/model"
)

// Verbose controls whether column explanations are printed before each
// table. Cleared when the --silent flag is passed.
var Verbose = true

// printSection prints a section title and, when Verbose is true, a
// one-line explanation of the columns that follow.
func printSection(w io.Writer, title, desc string) {
	fmt.Fprintf(w, "\n--- %s ---\n", title)
	if Verbose {
		fmt.Fprintf(w, "%s\n", desc)
	}
}

// fmtMs renders an epoch-milliseconds timestamp as local date-time.
func fmtMs(ms int64) string {
	if ms == 0 {
		return "—"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

// fmtDuration renders a duration in seconds as m:ss.
func fmtDuration(secs float64) string {
	total := int(secs)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// fmtCount renders a large counter with thousands separators.
func fmtCount(v uint64) string {
	s := strconv.FormatUint(v, 10)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
}

// PrintEncounterList prints stored encounter headers, newest first.
func PrintEncounterList(w io.Writer, list []model.EncounterHeader) {
	printSection(w, "Encounters",
		"ID=use with 'show <id>'  DUR=fight duration  DMG/HEAL=party totals\n"+
			"FAV=favorite flag  M=ended by manual reset  BOSSES=bosses defeated")
	table := newTable(w)
	table.Header("ID", "DATE", "SCENE", "DUR", "DMG", "HEAL", "FAV", "M", "BOSSES")
	for _, h := range list {
		fav, manual := "", ""
		if h.IsFavorite {
			fav = "*"
		}
		if h.IsManuallyReset {
			manual = "M"
		}
		bosses := ""
		for i, b := range h.BossNames {
			if i > 0 {
				bosses += ", "
			}
			bosses += b
		}
		table.Append(
			strconv.FormatInt(h.ID, 10),
			fmtMs(h.StartedAtMs),
			h.SceneName,
			fmtDuration(h.DurationSecs),
			fmtCount(h.TotalDmg),
			fmtCount(h.TotalHeal),
			fav, manual, bosses,
		)
	}
	table.Render()
}

// PrintEncounterHeader prints a one-line summary for one encounter.
func PrintEncounterHeader(w io.Writer, h model.EncounterHeader) {
	fmt.Fprintf(w, "\nScene: %s  |  Start: %s  |  Duration: %s  |  Dmg: %s  |  Heal: %s\n",
		h.SceneName, fmtMs(h.StartedAtMs), fmtDuration(h.DurationSecs),
		fmtCount(h.TotalDmg), fmtCount(h.TotalHeal))
}

// PrintActorTable prints the per-actor breakdown of one encounter.
// The local player's row is marked with ">".
func PrintActorTable(w io.Writer, actors []model.ActorStats) {
	printSection(w, "Actor Breakdown",
		"DMG=total damage  BOSS_DMG=damage to bosses  DPS=damage/duration\n"+
			"TDPS=true DPS over active damage time  CRIT%/LUCKY%=hit-rate splits\n"+
			"HEAL=healing done  TANKED=damage taken")
	table := newTable(w)
	table.Header(" ", "NAME", "CLASS", "DMG", "BOSS_DMG", "DPS", "TDPS", "CRIT%", "LUCKY%", "HEAL", "TANKED")
	for _, a := range actors {
		marker := " "
		if a.IsLocalPlayer {
			marker = color.CyanString(">")
		}
		table.Append(
			marker,
			a.Name,
			strconv.FormatUint(uint64(a.ClassID), 10),
			fmtCount(a.Damage.Total),
			fmtCount(a.DamageBossOnly.Total),
			fmt.Sprintf("%.0f", a.DPS),
			fmt.Sprintf("%.0f", a.TrueDPS),
			fmt.Sprintf("%.0f%%", rate(a.Damage.CritHits, a.Damage.Hits)),
			fmt.Sprintf("%.0f%%", rate(a.Damage.LuckyHits, a.Damage.Hits)),
			fmtCount(a.Heal.Total),
			fmtCount(a.Taken.Total),
		)
	}
	table.Render()
}

func rate(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

// PrintSkillTable prints one player's historical skill breakdown.
func PrintSkillTable(w io.Writer, res model.PlayerSkillsHistorical) {
	title := fmt.Sprintf("Skill Breakdown (%s)", res.MetricType)
	if res.CurrentPlayer != nil {
		title = fmt.Sprintf("Skill Breakdown — %s (%s)", res.CurrentPlayer.Name, res.MetricType)
	}
	printSection(w, title,
		"TOTAL=metric total for the skill  %SELF=share of the player's own total\n"+
			"HITS and CRIT/LUCKY counts as recorded at commit time")
	table := newTable(w)
	table.Header("SKILL", "TOTAL", "%SELF", "HITS", "CRIT", "LUCKY")
	for _, s := range res.Skills {
		table.Append(
			strconv.FormatUint(uint64(s.SkillID), 10),
			fmtCount(s.Total),
			fmt.Sprintf("%.1f%%", s.PercentOfOwner),
			strconv.FormatUint(s.Hits, 10),
			strconv.FormatUint(s.CritHits, 10),
			strconv.FormatUint(s.LuckyHits, 10),
		)
	}
	table.Render()
}

// PrintSegments prints a dungeon-run segment list.
func PrintSegments(w io.Writer, segs []model.Segment) {
	if len(segs) == 0 {
		return
	}
	printSection(w, "Dungeon Segments",
		"TYPE=trash or boss  BOSS=engaged boss for boss segments  DUR=segment length")
	table := newTable(w)
	table.Header("#", "TYPE", "BOSS", "SCENE", "START", "DUR")
	for i, s := range segs {
		dur := "open"
		if s.EndedAtMs > 0 {
			dur = fmtDuration(float64(s.EndedAtMs-s.StartedAtMs) / 1000)
		}
		table.Append(
			strconv.Itoa(i+1),
			s.Type.String(),
			s.BossName,
			s.SceneName,
			fmtMs(s.StartedAtMs),
			dur,
		)
	}
	table.Render()
}

// PrintRecentPlayers prints the cached player list.
func PrintRecentPlayers(w io.Writer, players []model.RecentPlayer) {
	printSection(w, "Recent Players", "Cached character identities, most recently seen first.")
	table := newTable(w)
	table.Header("UID", "NAME", "LAST_SEEN")
	for _, p := range players {
		table.Append(strconv.FormatUint(p.EntityID, 10), p.Name, fmtMs(p.LastSeenMs))
	}
	table.Render()
}

// PrintRawRows prints an arbitrary query result (the sql escape hatch).
func PrintRawRows(w io.Writer, cols []string, rows [][]string) {
	table := tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}},
	}))
	hdr := make([]any, len(cols))
	for i, c := range cols {
		hdr[i] = c
	}
	table.Header(hdr...)
	for _, r := range rows {
		cells := make([]any, len(r))
		for i, v := range r {
			cells[i] = v
		}
		table.Append(cells...)
	}
	table.Render()
	fmt.Fprintf(w, "%d row(s)\n", len(rows))
}

// PrintLiveHeader prints one compact live status line per snapshot.
func PrintLiveHeader(w io.Writer, u model.EncounterUpdate) {
	paused := ""
	if u.IsPaused {
		paused = "  [paused]"
	}
	seg := ""
	if u.Header.HasSegment {
		seg = "  seg=" + u.Header.SegmentType.String()
		if u.Header.SegmentName != "" {
			seg += ":" + u.Header.SegmentName
		}
	}
	fmt.Fprintf(w, "[%s] %s  dmg=%s  dps=%.0f%s%s\n",
		fmtDuration(float64(u.Header.ElapsedMs)/1000),
		u.Header.SceneName, fmtCount(u.Header.TotalDmg), u.Header.TotalDPS, seg, paused)
	for _, b := range u.Header.BossHealth {
		fmt.Fprintf(w, "    %s  %s/%s (%.1f%%)\n", b.Name, fmtCount(uint64(b.CurrentHP)), fmtCount(uint64(b.MaxHP)), b.HPPercent)
	}
}
