package attrs

import (
	"encoding/binary"
	"testing"

	"github.com/pable/combatlog/internal/model"
)

func registryOf(ids ...int64) SceneRegistry {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id int64) bool { return set[id] }
}

func TestDecodeVarintInt(t *testing.T) {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, 42)
	v := Decode(model.RawAttr{Raw: buf[:n]}, KindInt)
	if v.Kind != model.AttrInt || v.Int != 42 {
		t.Fatalf("got %+v, want int 42", v)
	}
}

func TestDecodeFloat(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 0x3ff0000000000000) // 1.0
	v := Decode(model.RawAttr{Raw: buf}, KindFloat)
	if v.Kind != model.AttrFloat || v.Float != 1.0 {
		t.Fatalf("got %+v, want float 1.0", v)
	}
}

func TestExtractSceneIDFromGUID(t *testing.T) {
	id, ok := ExtractSceneID("scene-1001-guid", nil, nil, registryOf(1001))
	if !ok || id != 1001 {
		t.Fatalf("got (%d, %v), want (1001, true)", id, ok)
	}
}

func TestExtractSceneIDFromIDAttr(t *testing.T) {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, 2002)
	attrs := []model.RawAttr{{AttrID: 5, IsIDAttr: true, Raw: buf[:n]}}
	id, ok := ExtractSceneID("no-digits-here", attrs, nil, registryOf(2002))
	if !ok || id != 2002 {
		t.Fatalf("got (%d, %v), want (2002, true)", id, ok)
	}
}

func TestExtractSceneIDFallbackLittleEndian(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[2:6], 3003)
	attrs := []model.RawAttr{{AttrID: 9, Raw: buf}}
	id, ok := ExtractSceneID("", nil, attrs, registryOf(3003))
	if !ok || id != 3003 {
		t.Fatalf("got (%d, %v), want (3003, true)", id, ok)
	}
}

func TestExtractSceneIDFallbackASCII(t *testing.T) {
	attrs := []model.RawAttr{{AttrID: 9, Raw: []byte("xx4004yy")}}
	id, ok := ExtractSceneID("", nil, attrs, registryOf(4004))
	if !ok || id != 4004 {
		t.Fatalf("got (%d, %v), want (4004, true)", id, ok)
	}
}

func TestExtractSceneIDNone(t *testing.T) {
	id, ok := ExtractSceneID("no-digits", nil, nil, registryOf(1))
	if ok {
		t.Fatalf("got (%d, %v), want not found", id, ok)
	}
}
