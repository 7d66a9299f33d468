package storage

import (
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pable/combatlog/internal/model"
)

// The encounter detail blob is a msgpack array of storedEntity records,
// zstd-compressed. Only entities with combat activity are included. All
// counters saturate to int64 at this boundary; live uint64 accumulators
// beyond MaxInt64 are recorded as MaxInt64.

type storedCombat struct {
	Total      int64
	Hits       int64
	CritHits   int64
	CritTotal  int64
	LuckyHits  int64
	LuckyTotal int64
}

type storedSkill struct {
	SkillID uint32
	Stats   storedCombat
}

type storedSkillTarget struct {
	SkillID     uint32
	TargetID    uint64
	MonsterName string
	Stats       storedCombat
}

type storedTargetDmg struct {
	TargetID uint64
	Total    int64
}

type storedEntity struct {
	EntityID     uint64
	EntityType   int
	Name         string
	MonsterName  string
	ClassID      uint32
	ClassSpec    uint32
	AbilityScore int64
	IsBoss       bool

	Damage         storedCombat
	Heal           storedCombat
	Taken          storedCombat
	DamageBossOnly storedCombat

	DamageSkills []storedSkill
	HealSkills   []storedSkill
	TakenSkills  []storedSkill

	SkillDmgToTarget []storedSkillTarget
	DmgToTarget      []storedTargetDmg

	ActiveDmgTimeMs int64
}

func toStoredCombat(c model.CombatStats) storedCombat {
	return storedCombat{
		Total:      model.SaturateInt64(c.Total),
		Hits:       model.SaturateInt64(c.Hits),
		CritHits:   model.SaturateInt64(c.CritHits),
		CritTotal:  model.SaturateInt64(c.CritTotal),
		LuckyHits:  model.SaturateInt64(c.LuckyHits),
		LuckyTotal: model.SaturateInt64(c.LuckyTotal),
	}
}

func fromStoredCombat(c storedCombat) model.CombatStats {
	return model.CombatStats{
		Total:      uint64(c.Total),
		Hits:       uint64(c.Hits),
		CritHits:   uint64(c.CritHits),
		CritTotal:  uint64(c.CritTotal),
		LuckyHits:  uint64(c.LuckyHits),
		LuckyTotal: uint64(c.LuckyTotal),
	}
}

func toStoredSkills(table map[uint32]*model.Skill) []storedSkill {
	out := make([]storedSkill, 0, len(table))
	for id, s := range table {
		out = append(out, storedSkill{SkillID: id, Stats: toStoredCombat(s.Stats)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out
}

func toStoredEntity(e *model.Entity) storedEntity {
	se := storedEntity{
		EntityID:        e.EntityID,
		EntityType:      int(e.EntityType),
		Name:            e.Name,
		MonsterName:     e.MonsterNamePacket,
		ClassID:         e.ClassID,
		ClassSpec:       e.ClassSpec,
		AbilityScore:    e.AbilityScore,
		IsBoss:          e.IsBoss,
		Damage:          toStoredCombat(e.Damage),
		Heal:            toStoredCombat(e.Heal),
		Taken:           toStoredCombat(e.Taken),
		DamageBossOnly:  toStoredCombat(e.DamageBossOnly),
		DamageSkills:    toStoredSkills(e.DamageSkills),
		HealSkills:      toStoredSkills(e.HealSkills),
		TakenSkills:     toStoredSkills(e.TakenSkills),
		ActiveDmgTimeMs: model.SaturateInt64(e.ActiveDmgTimeMs),
	}
	for key, st := range e.SkillDmgToTarget {
		se.SkillDmgToTarget = append(se.SkillDmgToTarget, storedSkillTarget{
			SkillID:     key.SkillID,
			TargetID:    key.TargetID,
			MonsterName: st.MonsterName,
			Stats:       toStoredCombat(st.Stats),
		})
	}
	sort.Slice(se.SkillDmgToTarget, func(i, j int) bool {
		a, b := se.SkillDmgToTarget[i], se.SkillDmgToTarget[j]
		if a.SkillID != b.SkillID {
			return a.SkillID < b.SkillID
		}
		return a.TargetID < b.TargetID
	})
	for id, total := range e.DmgToTarget {
		se.DmgToTarget = append(se.DmgToTarget, storedTargetDmg{TargetID: id, Total: model.SaturateInt64(total)})
	}
	sort.Slice(se.DmgToTarget, func(i, j int) bool { return se.DmgToTarget[i].TargetID < se.DmgToTarget[j].TargetID })
	return se
}

// packEntities filters the live entity map to entities with any combat
// activity, binary-packs it, and zstd-compresses the result.
func packEntities(entities map[uint64]*model.Entity) ([]byte, error) {
	stored := make([]storedEntity, 0, len(entities))
	for _, e := range entities {
		if !e.HasCombatActivity() {
			continue
		}
		stored = append(stored, toStoredEntity(e))
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].EntityID < stored[j].EntityID })

	packed, err := msgpack.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("pack entities: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(packed, nil), nil
}

// unpackEntities reverses packEntities.
func unpackEntities(blob []byte) ([]storedEntity, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	packed, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress encounter data: %w", err)
	}
	var stored []storedEntity
	if err := msgpack.Unmarshal(packed, &stored); err != nil {
		return nil, fmt.Errorf("unpack entities: %w", err)
	}
	return stored, nil
}

// displayName mirrors the live name fallback for historical rows.
func (e storedEntity) displayName() string {
	if e.Name != "" {
		return e.Name
	}
	if e.MonsterName != "" {
		return e.MonsterName
	}
	return fmt.Sprintf("#%d", e.EntityID)
}
