// Package attrs decodes raw attribute slots delivered by the packet
// decoder into typed model.AttrValue entries, and extracts scene ids from
// the several places they may appear in an EnterScene packet.
//
// The decoder hands us opaque byte slots tagged only by attribute-id; the
// caller names the kind (integer, float, or opaque blob) each slot is
// decoded as. For scene ids specifically, this package tries a
// deterministic sequence of interpretations until one produces a value the
// caller recognizes as registered.
package attrs

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode"

	"github.com/pable/combatlog/internal/model"
)

// DecodeKind is the interpretation to apply to a raw attribute slot.
type DecodeKind int

const (
	KindInt DecodeKind = iota
	KindFloat
	KindBytes
)

// Decode converts one RawAttr into a typed model.AttrValue according to
// kind. Unknown kinds fall back to KindBytes so nothing is silently
// dropped.
func Decode(raw model.RawAttr, kind DecodeKind) model.AttrValue {
	switch kind {
	case KindInt:
		v, ok := decodeVarint(raw.Raw)
		if !ok {
			return model.BytesAttr(raw.Raw)
		}
		return model.IntAttr(v)
	case KindFloat:
		if len(raw.Raw) < 8 {
			return model.BytesAttr(raw.Raw)
		}
		bits := binary.LittleEndian.Uint64(raw.Raw[:8])
		return model.FloatAttr(math.Float64frombits(bits))
	default:
		return model.BytesAttr(raw.Raw)
	}
}

// decodeVarint reads a standard LEB128 unsigned varint from the front of
// b. Returns ok=false on an empty or malformed buffer.
func decodeVarint(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, false
	}
	return int64(v), true
}

// SceneRegistry reports whether an id is one the caller's (external,
// decoder-owned) scene registry recognizes. The registry itself lives
// outside this module — localization and id tables belong to the decoder —
// so callers inject the lookup.
type SceneRegistry func(id int64) bool

// ExtractSceneID applies a deterministic extraction order: GUID
// digit-run scan, then id-attribute varint decode, then a byte-level
// fallback scan across every offset of every attribute's raw bytes. It
// returns the first value the registry accepts, or (0, false) if none
// matched, in which case the caller records the scene as Unknown.
func ExtractSceneID(guid string, sceneAttrs, subsceneAttrs []model.RawAttr, isRegistered SceneRegistry) (int64, bool) {
	if id, ok := scanGUIDDigitRuns(guid, isRegistered); ok {
		return id, ok
	}
	for _, a := range append(append([]model.RawAttr{}, subsceneAttrs...), sceneAttrs...) {
		if !a.IsIDAttr {
			continue
		}
		if v, ok := decodeVarint(a.Raw); ok && isRegistered(v) {
			return v, true
		}
	}
	for _, a := range subsceneAttrs {
		if id, ok := scanRawBytes(a.Raw, isRegistered); ok {
			return id, ok
		}
	}
	for _, a := range sceneAttrs {
		if id, ok := scanRawBytes(a.Raw, isRegistered); ok {
			return id, ok
		}
	}
	return 0, false
}

// scanGUIDDigitRuns scans s for contiguous digit runs, parsing each as an
// integer and accepting the first one the registry recognizes.
func scanGUIDDigitRuns(s string, isRegistered SceneRegistry) (int64, bool) {
	if isRegistered == nil {
		return 0, false
	}
	runStart := -1
	for i := 0; i <= len(s); i++ {
		isDigit := i < len(s) && unicode.IsDigit(rune(s[i]))
		if isDigit && runStart == -1 {
			runStart = i
		}
		if !isDigit && runStart != -1 {
			if v, err := strconv.ParseInt(s[runStart:i], 10, 64); err == nil && isRegistered(v) {
				return v, true
			}
			runStart = -1
		}
	}
	return 0, false
}

// scanRawBytes first tries, at every offset of raw, a varint decode, a
// 4-byte little-endian uint32 and a 4-byte big-endian uint32, in that
// order; only if none of those is recognized does it try ASCII decimal
// substrings, shortest length (2) to longest (6), each from every offset.
// It accepts the first value the registry recognizes.
func scanRawBytes(raw []byte, isRegistered SceneRegistry) (int64, bool) {
	if isRegistered == nil {
		return 0, false
	}
	for off := 0; off < len(raw); off++ {
		if v, ok := decodeVarint(raw[off:]); ok && isRegistered(v) {
			return v, true
		}
		if off+4 <= len(raw) {
			if v := int64(binary.LittleEndian.Uint32(raw[off : off+4])); isRegistered(v) {
				return v, true
			}
			if v := int64(binary.BigEndian.Uint32(raw[off : off+4])); isRegistered(v) {
				return v, true
			}
		}
	}
	for length := 2; length <= 6; length++ {
		for off := 0; off+length <= len(raw); off++ {
			if v, ok := asciiDecimal(raw[off : off+length]); ok && isRegistered(v) {
				return v, true
			}
		}
	}
	return 0, false
}

// asciiDecimal parses b as an ASCII decimal integer, requiring every byte
// to be a digit.
func asciiDecimal(b []byte) (int64, bool) {
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
