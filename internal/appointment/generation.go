package appointment

import (
	"go.uber.org/zap"
)

// generation is one complete version of the store held in memory: the
// records in store order, the active-slot index and the slot holds.
// A generation is only mutated inside a single locked cycle before it is
// installed; installed generations are read-only.
type generation struct {
	records []Record
	pos     map[string]int
	active  map[SlotKey]string

	holds     []SlotKey
	holdIndex map[SlotKey]int

	recordsDirty bool
	holdsDirty   bool
}

func newGeneration(records []Record, holds []SlotKey, log *zap.Logger) *generation {
	g := &generation{
		records:   records,
		pos:       make(map[string]int, len(records)),
		active:    make(map[SlotKey]string),
		holdIndex: make(map[SlotKey]int, len(holds)),
	}

	for i, r := range records {
		if _, dup := g.pos[r.ID]; dup {
			log.Warn("duplicate appointment id in store, keeping the later line", zap.String("id", r.ID))
		}
		g.pos[r.ID] = i
	}
	// Lines shadowed by a later duplicate would otherwise be rewritten verbatim.
	if len(g.pos) != len(records) {
		g.compact()
	}

	for _, r := range g.records {
		if !r.Status.IsActive() {
			continue
		}
		if other, taken := g.active[r.Slot()]; taken {
			log.Warn("slot held by more than one active appointment",
				zap.String("slot", r.Slot().String()),
				zap.String("id", r.ID),
				zap.String("other_id", other))
			continue
		}
		g.active[r.Slot()] = r.ID
	}

	for _, k := range holds {
		if _, dup := g.holdIndex[k]; dup {
			continue
		}
		g.holdIndex[k] = len(g.holds)
		g.holds = append(g.holds, k)
	}
	return g
}

func (g *generation) compact() {
	kept := make([]Record, 0, len(g.pos))
	for i, r := range g.records {
		if g.pos[r.ID] == i {
			kept = append(kept, r)
		}
	}
	g.records = kept
	g.reposition()
	g.recordsDirty = true
}

func (g *generation) reposition() {
	clear(g.pos)
	for i, r := range g.records {
		g.pos[r.ID] = i
	}
}

func (g *generation) get(id string) (Record, bool) {
	i, ok := g.pos[id]
	if !ok {
		return Record{}, false
	}
	return g.records[i], true
}

// occupant returns the ID of the active record holding k, if any.
func (g *generation) occupant(k SlotKey) (string, bool) {
	id, ok := g.active[k]
	return id, ok
}

func (g *generation) isHeld(k SlotKey) bool {
	_, ok := g.holdIndex[k]
	return ok
}

// put inserts r or replaces the record with the same ID, keeping the
// active index and the confirmation holds in step with the change.
func (g *generation) put(r Record) {
	r.ledger = nil
	before, existed := g.get(r.ID)
	if existed {
		g.unindex(before)
		g.records[g.pos[r.ID]] = r
	} else {
		g.pos[r.ID] = len(g.records)
		g.records = append(g.records, r)
	}
	if r.Status.IsActive() {
		g.active[r.Slot()] = r.ID
	}
	g.moveHold(before, r)
	g.recordsDirty = true
}

func (g *generation) remove(id string) (Record, bool) {
	r, ok := g.get(id)
	if !ok {
		return Record{}, false
	}
	g.unindex(r)
	i := g.pos[id]
	g.records = append(g.records[:i], g.records[i+1:]...)
	g.reposition()
	g.moveHold(r, Record{})
	g.recordsDirty = true
	return r, true
}

func (g *generation) unindex(r Record) {
	if r.Status.IsActive() && g.active[r.Slot()] == r.ID {
		delete(g.active, r.Slot())
	}
}

// moveHold keeps the side-store in line with confirmations: a Confirmed
// record holds its slot. A record that stops occupying a slot releases any
// hold on it, whoever wrote it.
func (g *generation) moveHold(before, after Record) {
	wasHolding := before.Status == StatusConfirmed
	holds := after.Status == StatusConfirmed
	stays := after.Status.IsActive() && before.Slot() == after.Slot()
	if before.Status.IsActive() && (!stays || (wasHolding && !holds)) {
		g.release(before.Slot())
	}
	if holds && (!wasHolding || before.Slot() != after.Slot()) {
		g.hold(after.Slot())
	}
}

func (g *generation) hold(k SlotKey) bool {
	if g.isHeld(k) {
		return false
	}
	g.holdIndex[k] = len(g.holds)
	g.holds = append(g.holds, k)
	g.holdsDirty = true
	return true
}

func (g *generation) release(k SlotKey) bool {
	i, ok := g.holdIndex[k]
	if !ok {
		return false
	}
	g.holds = append(g.holds[:i], g.holds[i+1:]...)
	delete(g.holdIndex, k)
	for j := i; j < len(g.holds); j++ {
		g.holdIndex[g.holds[j]] = j
	}
	g.holdsDirty = true
	return true
}

func (g *generation) countByStatus() map[string]int {
	counts := make(map[string]int, len(statusNames))
	for _, name := range statusNames {
		counts[name] = 0
	}
	for _, r := range g.records {
		counts[r.Status.String()]++
	}
	return counts
}
