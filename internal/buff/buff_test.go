package buff

import (
	"testing"

	"github.com/pable/combatlog/internal/model"
)

func mkUUID(b byte) [16]byte {
	var u [16]byte
	u[15] = b
	return u
}

func addEvent(u byte, baseID uint32, createMs int64) model.BuffEvent {
	return model.BuffEvent{
		Kind:         model.BuffAdd,
		EntityID:     1,
		BuffUUID:     mkUUID(u),
		BaseID:       baseID,
		Layer:        1,
		DurationMs:   10000,
		CreateTimeMs: createMs,
	}
}

func TestAddChangeRemove(t *testing.T) {
	tr := New()
	tr.Apply(addEvent(1, 100, 5000), 5000)
	if tr.Len() != 1 {
		t.Fatalf("after add: len = %d, want 1", tr.Len())
	}

	ch := addEvent(1, 100, 6000)
	ch.Kind = model.BuffChange
	ch.Layer = 3
	tr.Apply(ch, 6000)
	rows := tr.Emit(nil, true, nil)
	if len(rows) != 1 || rows[0].Layer != 3 {
		t.Errorf("change not applied in place: %+v", rows)
	}

	// Change for an unknown uuid is ignored.
	unknown := ch
	unknown.BuffUUID = mkUUID(9)
	tr.Apply(unknown, 6000)
	if tr.Len() != 1 {
		t.Errorf("unknown change created a buff: len = %d", tr.Len())
	}

	rm := model.BuffEvent{Kind: model.BuffRemove, BuffUUID: mkUUID(1)}
	tr.Apply(rm, 7000)
	if tr.Len() != 0 {
		t.Errorf("after remove: len = %d, want 0", tr.Len())
	}
}

func TestClockOffsetCapturedOnFirstAdd(t *testing.T) {
	tr := New()
	// Server clock is 2000ms behind local.
	tr.Apply(addEvent(1, 100, 3000), 5000)
	if got := tr.ClockOffsetMs(); got != 2000 {
		t.Fatalf("offset = %d, want 2000", got)
	}
	// A later Add with different skew must not move the offset.
	tr.Apply(addEvent(2, 101, 3000), 9000)
	if got := tr.ClockOffsetMs(); got != 2000 {
		t.Errorf("offset moved on second add: %d", got)
	}
	// Emission translates create_time into the local domain.
	rows := tr.Emit(nil, true, nil)
	for _, r := range rows {
		if r.CreateTimeMs != 5000 {
			t.Errorf("buff %d create_time = %d, want 5000", r.BaseID, r.CreateTimeMs)
		}
	}
}

func TestEmitFiltering(t *testing.T) {
	tr := New()
	tr.Apply(addEvent(1, 100, 0), 0)
	tr.Apply(addEvent(2, 200, 0), 0)
	src := addEvent(3, 300, 0)
	src.SourceConfigID = 555
	tr.Apply(src, 0)

	if got := tr.Emit(nil, false, nil); len(got) != 0 {
		t.Errorf("no monitored set and no monitor-all should emit nothing, got %d", len(got))
	}
	if got := tr.Emit(map[uint32]bool{200: true}, false, nil); len(got) != 1 || got[0].BaseID != 200 {
		t.Errorf("monitored filter: %+v", got)
	}
	// Related-base-id path: monitor the source-config-derived id.
	if got := tr.Emit(map[uint32]bool{555: true}, false, nil); len(got) != 1 || got[0].BaseID != 300 {
		t.Errorf("related-base-id filter: %+v", got)
	}
	if got := tr.Emit(nil, true, nil); len(got) != 3 {
		t.Errorf("monitor-all: got %d rows, want 3", len(got))
	}
}

func TestEmitOrdering(t *testing.T) {
	tr := New()
	tr.Apply(addEvent(1, 300, 10), 10)
	tr.Apply(addEvent(2, 100, 20), 10)
	tr.Apply(addEvent(3, 200, 5), 10)

	// Priority puts 200 first; 100 and 300 fall back to base-id order.
	rows := tr.Emit(nil, true, map[uint32]int{200: 0})
	want := []uint32{200, 100, 300}
	for i, w := range want {
		if rows[i].BaseID != w {
			t.Fatalf("row %d = base %d, want %d (rows %+v)", i, rows[i].BaseID, w, rows)
		}
	}
}

func TestResetKeepsClockOffset(t *testing.T) {
	tr := New()
	tr.Apply(addEvent(1, 100, 1000), 4000)
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("reset left %d buffs", tr.Len())
	}
	if tr.ClockOffsetMs() != 3000 {
		t.Errorf("reset dropped clock offset: %d", tr.ClockOffsetMs())
	}
}
