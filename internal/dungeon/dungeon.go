// Package dungeon maintains the per-scene segment log for dungeon runs:
// trash and boss intervals opened and closed by boss engagement, boss
// death, scene resets, and combat inactivity.
package dungeon

import "github.com/pable/combatlog/internal/model"

// SegmentInactivityMs closes the current segment when no combat packet has
// arrived for this long.
const SegmentInactivityMs = 30_000

// Log wraps a model.DungeonLog with the transition rules of the
// segmentation state machine. All methods are no-ops while the log is
// disabled.
type Log struct {
	enabled bool

	log          model.DungeonLog
	sceneID      int64
	sceneName    string
	lastCombatMs int64
}

// New returns a disabled Log.
func New() *Log {
	return &Log{}
}

// SetEnabled toggles segmentation. Disabling clears the log.
func (l *Log) SetEnabled(enabled bool) {
	l.enabled = enabled
	if !enabled {
		l.log.Clear()
	}
}

// Enabled reports whether segmentation is active.
func (l *Log) Enabled() bool { return l.enabled }

// OnSceneReset clears the log and opens an implicit trash segment anchored
// at the scene entry time.
func (l *Log) OnSceneReset(atMs, sceneID int64, sceneName string) {
	if !l.enabled {
		return
	}
	l.sceneID, l.sceneName = sceneID, sceneName
	l.lastCombatMs = 0
	l.log.Clear()
	l.openTrash(atMs)
}

// OnSceneChange closes the open segment at the transition and opens a
// trash segment under the new scene, keeping the prior segments in the
// log — the mid-run shape of a dungeon floor change.
func (l *Log) OnSceneChange(atMs, sceneID int64, sceneName string) {
	if !l.enabled {
		return
	}
	l.log.Close(atMs)
	l.sceneID, l.sceneName = sceneID, sceneName
	l.openTrash(atMs)
}

// OnBossEngage closes the trash segment and opens a boss segment. Calling
// it again for the same open boss segment is a no-op, so the aggregator
// can signal engagement on every boss-damage packet without bookkeeping.
func (l *Log) OnBossEngage(atMs int64, bossName string) {
	if !l.enabled {
		return
	}
	if cur := l.log.Current(); cur != nil && cur.Type == model.SegmentBoss && cur.BossName == bossName {
		return
	}
	l.log.Open(model.Segment{
		StartedAtMs: atMs,
		Type:        model.SegmentBoss,
		BossName:    bossName,
		SceneID:     l.sceneID,
		SceneName:   l.sceneName,
	})
}

// OnBossDeath closes the boss segment and opens a fresh trash segment.
func (l *Log) OnBossDeath(atMs int64) {
	if !l.enabled {
		return
	}
	l.openTrash(atMs)
}

// OnCombat records combat activity at atMs. If the gap since the previous
// combat packet exceeds the inactivity timeout, the open segment is closed
// as timed out (at the moment the timeout elapsed, not at the new packet)
// and a trash segment takes its place.
func (l *Log) OnCombat(atMs int64) {
	if !l.enabled {
		return
	}
	if l.lastCombatMs != 0 && atMs-l.lastCombatMs >= SegmentInactivityMs && l.log.Current() != nil {
		l.log.Close(l.lastCombatMs + SegmentInactivityMs)
		l.openTrash(atMs)
	}
	l.lastCombatMs = atMs
}

// CheckTimeout closes the open segment if combat has been quiet for the
// inactivity window as of nowMs, opening a trash segment in its place.
// The aggregator calls this from its periodic tick so a segment ends even
// when no further packet ever arrives.
func (l *Log) CheckTimeout(nowMs int64) {
	if !l.enabled || l.lastCombatMs == 0 {
		return
	}
	if nowMs-l.lastCombatMs >= SegmentInactivityMs && l.log.Current() != nil {
		l.log.Close(l.lastCombatMs + SegmentInactivityMs)
		l.openTrash(nowMs)
		l.lastCombatMs = 0
	}
}

// CloseAll closes any open segment at endMs; called before persisting.
func (l *Log) CloseAll(endMs int64) {
	l.log.Close(endMs)
}

// Current returns the open segment, or nil.
func (l *Log) Current() *model.Segment {
	if !l.enabled {
		return nil
	}
	return l.log.Current()
}

// Snapshot returns a copy of the segment list for emission.
func (l *Log) Snapshot() model.DungeonLogSnapshot {
	segs := make([]model.Segment, len(l.log.Segments))
	copy(segs, l.log.Segments)
	return model.DungeonLogSnapshot{Segments: segs}
}

// Segments returns the raw segment list for persistence.
func (l *Log) Segments() []model.Segment {
	return l.log.Segments
}

// Clear empties the log without touching the enabled flag.
func (l *Log) Clear() {
	l.log.Clear()
	l.lastCombatMs = 0
}

func (l *Log) openTrash(atMs int64) {
	l.log.Open(model.Segment{
		StartedAtMs: atMs,
		Type:        model.SegmentTrash,
		SceneID:     l.sceneID,
		SceneName:   l.sceneName,
	})
}
