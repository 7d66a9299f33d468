package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pable/combatlog/internal/aggregator"
	"github.com/pable/combatlog/internal/model"
	"github.com/pable/combatlog/internal/report"
	"github.com/pable/combatlog/internal/storage"
)

var (
	liveInput    string
	liveSegments bool
	liveBossOnly bool
	liveRateMs   int
	liveScenes   string
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live aggregator against a decoded packet stream",
	Long: `Consume decoded packets (JSON lines) from stdin or --input, maintain the
live encounter, and print snapshot updates. Completed encounters are
persisted to the database for later browsing with 'list' and 'show'.

Each input line is one packet envelope: {"type": "<kind>", ...fields}.
The packet decoder producing this stream is a separate tool.`,
	Args: cobra.NoArgs,
	RunE: runLive,
}

func init() {
	liveCmd.Flags().StringVar(&liveInput, "input", "-", "packet stream file, or - for stdin")
	liveCmd.Flags().BoolVar(&liveSegments, "segments", false, "enable dungeon segment tracking")
	liveCmd.Flags().BoolVar(&liveBossOnly, "boss-only", false, "rank and scope by boss-only damage")
	liveCmd.Flags().IntVar(&liveRateMs, "rate", aggregator.DefaultUpdateRateMs, "snapshot update rate in milliseconds")
	liveCmd.Flags().StringVar(&liveScenes, "scenes", "", "comma-separated registered scene ids (default: accept any)")
}

func runLive(cmd *cobra.Command, args []string) error {
	log := newLogger()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	in := os.Stdin
	if liveInput != "-" {
		f, err := os.Open(liveInput)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	agg := aggregator.New(log, db, sceneRegistryFromFlag(liveScenes))
	if cache, err := db.LoadEntityCache(); err != nil {
		log.Warn("load entity cache", "err", err)
	} else {
		agg.SetEntityCache(cache)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agg.Run(gctx)
		return nil
	})

	// Startup knobs travel as control commands, same as they would from
	// a UI.
	agg.Commands() <- model.SetEventUpdateRateMs{Ms: liveRateMs}
	agg.Commands() <- model.SetBossOnlyDPS{Enabled: liveBossOnly}
	agg.Commands() <- model.SetDungeonSegmentsEnabled{Enabled: liveSegments}

	g.Go(func() error {
		return pumpPackets(gctx, in, agg)
	})
	g.Go(func() error {
		printEvents(gctx, agg)
		return nil
	})
	return g.Wait()
}

// sceneRegistryFromFlag builds the scene-id registry. The real registry
// belongs to the external decoder; without one, any positive id is
// accepted.
func sceneRegistryFromFlag(flag string) func(int64) bool {
	if flag == "" {
		return func(id int64) bool { return id > 0 }
	}
	set := make(map[int64]bool)
	for _, part := range strings.Split(flag, ",") {
		if v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			set[v] = true
		}
	}
	return func(id int64) bool { return set[id] }
}

// pumpPackets decodes the JSON-lines stream into the aggregator's packet
// queue. A malformed line is skipped; the stream keeps flowing.
func pumpPackets(ctx context.Context, in io.Reader, agg *aggregator.Aggregator) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pkt, err := decodePacket([]byte(line))
		if err != nil || pkt == nil {
			continue
		}
		select {
		case agg.Packets() <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// decodePacket maps one envelope line to a typed packet. Unknown types
// return nil, nil and are ignored, matching the aggregator's contract.
func decodePacket(line []byte) (model.Packet, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case "ServerChange":
		return decodeAs[model.ServerChange](line)
	case "EnterScene":
		return decodeAs[model.EnterScene](line)
	case "SyncNearEntities":
		return decodeAs[model.SyncNearEntities](line)
	case "SyncContainerData":
		return decodeAs[model.SyncContainerData](line)
	case "SyncContainerDirtyData":
		return decodeAs[model.SyncContainerDirtyData](line)
	case "SyncToMeDeltaInfo":
		return decodeAs[model.SyncToMeDeltaInfo](line)
	case "SyncNearDeltaInfo":
		return decodeAs[model.SyncNearDeltaInfo](line)
	case "NotifyReviveUser":
		return decodeAs[model.NotifyReviveUser](line)
	case "SyncDungeonData":
		return decodeAs[model.SyncDungeonData](line)
	case "SyncDungeonDirtyData":
		return decodeAs[model.SyncDungeonDirtyData](line)
	case "PauseEncounter":
		return decodeAs[model.PauseEncounter](line)
	case "ResetEncounter":
		return decodeAs[model.ResetEncounter](line)
	default:
		return nil, nil
	}
}

// decodeAs unmarshals line into a packet of concrete type T.
func decodeAs[T model.Packet](line []byte) (model.Packet, error) {
	var p T
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// printEvents renders the aggregator's outbound events until the context
// ends. Only the compact header and boundary events are printed; the
// full windows exist for UI consumers.
func printEvents(ctx context.Context, agg *aggregator.Aggregator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-agg.Events():
			switch payload := ev.Payload.(type) {
			case model.EncounterUpdate:
				report.PrintLiveHeader(os.Stdout, payload)
			case model.BossDeathEvent:
				fmt.Fprintf(os.Stdout, "*** %s defeated\n", payload.BossName)
			case model.SceneChangeEvent:
				fmt.Fprintf(os.Stdout, "--- entered %s\n", payload.SceneName)
			case model.ResetEncounterEvent:
				fmt.Fprintln(os.Stdout, "--- encounter reset")
			case model.PauseEncounterEvent:
				fmt.Fprintf(os.Stdout, "--- paused: %v\n", payload.Paused)
			}
		}
	}
}
