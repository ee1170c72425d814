package ledger

import (
	"sort"
	"time"
)

// SnapshotSource records where the current Snapshot came from.
type SnapshotSource string

const (
	SourceEmpty      SnapshotSource = ""
	SourceRemote     SnapshotSource = "remote"
	SourceCache      SnapshotSource = "cache"
	SourceLocalWrite SnapshotSource = "local-write"
)

// Snapshot is the read-consistent view of all four collections.
type Snapshot struct {
	Records   []RevenueRecord
	Vehicles  []Vehicle
	Operators []Operator
	Notes     []MonthlyNote
	SyncedAt  time.Time
	Source    SnapshotSource
}

// Clone returns a copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Records = cloneSlice(s.Records)
	out.Vehicles = cloneSlice(s.Vehicles)
	out.Operators = cloneSlice(s.Operators)
	out.Notes = cloneSlice(s.Notes)
	return out
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	dup := make([]T, len(in))
	copy(dup, in)
	return dup
}

// Entities returns collection c as a generic slice.
func (s Snapshot) Entities(c Collection) []Entity {
	switch c {
	case CollectionRecords:
		return toEntities(s.Records)
	case CollectionVehicles:
		return toEntities(s.Vehicles)
	case CollectionOperators:
		return toEntities(s.Operators)
	case CollectionNotes:
		return toEntities(s.Notes)
	}
	return nil
}

// withCollection returns a copy of s whose collection c is replaced by es.
// Entities of the wrong type are ignored.
func (s Snapshot) withCollection(c Collection, es []Entity) Snapshot {
	out := s.Clone()
	switch c {
	case CollectionRecords:
		out.Records = fromEntities[RevenueRecord](es)
	case CollectionVehicles:
		out.Vehicles = fromEntities[Vehicle](es)
	case CollectionOperators:
		out.Operators = fromEntities[Operator](es)
	case CollectionNotes:
		out.Notes = fromEntities[MonthlyNote](es)
	}
	return out
}

// Counts returns the size of each collection.
func (s Snapshot) Counts() map[Collection]int {
	return map[Collection]int{
		CollectionRecords:   len(s.Records),
		CollectionVehicles:  len(s.Vehicles),
		CollectionOperators: len(s.Operators),
		CollectionNotes:     len(s.Notes),
	}
}

// Record looks up a revenue record by id.
func (s Snapshot) Record(id int64) (RevenueRecord, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return RevenueRecord{}, false
}

// Note returns the note for month, if any.
func (s Snapshot) Note(month string) (MonthlyNote, bool) {
	for _, n := range s.Notes {
		if n.Month == month {
			return n, true
		}
	}
	return MonthlyNote{}, false
}

func toEntities[T Entity](in []T) []Entity {
	out := make([]Entity, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	return out
}

func fromEntities[T Entity](in []Entity) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, 0, len(in))
	for _, e := range in {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// upsertEntity replaces the entity with the same key or appends it, keeping
// the collection ordered by key.
func upsertEntity(es []Entity, e Entity) []Entity {
	out := make([]Entity, 0, len(es)+1)
	replaced := false
	for _, cur := range es {
		if cur.Key() == e.Key() {
			out = append(out, e)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, e)
	}
	sortEntities(out)
	return out
}

func removeEntity(es []Entity, key string) []Entity {
	out := make([]Entity, 0, len(es))
	for _, cur := range es {
		if cur.Key() != key {
			out = append(out, cur)
		}
	}
	return out
}

func sortEntities(es []Entity) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := entityID(es[i]), entityID(es[j])
		if _, isNote := es[i].(MonthlyNote); isNote {
			return es[i].Key() < es[j].Key()
		}
		return a < b
	})
}

// nextLocalID is max(existing ids)+1, or 1 for an empty collection.
func nextLocalID(es []Entity) int64 {
	var maxID int64
	for _, e := range es {
		if id := entityID(e); id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}
