package vectors

import (
	"sort"
	"time"
)

// Table is one immutable generation of state vectors. Vectors keep the
// provider's order; a separate epoch-sorted permutation backs the searches.
type Table struct {
	generation uint64
	token      FreshnessToken
	source     string
	fetchedAt  time.Time
	metadata   Metadata

	vectors []StateVector
	byEpoch []int         // indices into vectors, ascending epoch
	index   map[int64]int // UnixNano(epoch) -> index into vectors
}

// newTable validates p and builds the lookup structures. The vector slice is
// copied so later changes by the caller cannot reach the table.
func newTable(generation uint64, p Payload) (*Table, error) {
	if len(p.Vectors) == 0 {
		return nil, Errorf(KindInvalidTable, "build table", "payload has no state vectors")
	}

	vs := make([]StateVector, len(p.Vectors))
	copy(vs, p.Vectors)

	index := make(map[int64]int, len(vs))
	for i, v := range vs {
		if v.Epoch.IsZero() {
			return nil, Errorf(KindInvalidTable, "build table", "vector %d has no epoch", i)
		}
		key := v.Epoch.UnixNano()
		if prev, ok := index[key]; ok {
			return nil, Errorf(KindInvalidTable, "build table", "duplicate epoch %s at positions %d and %d",
				FormatEpoch(v.Epoch), prev, i)
		}
		index[key] = i
		vs[i].Epoch = v.Epoch.UTC()
		if vs[i].RawEpoch == "" {
			vs[i].RawEpoch = FormatEpoch(v.Epoch)
		}
	}

	byEpoch := make([]int, len(vs))
	for i := range byEpoch {
		byEpoch[i] = i
	}
	sort.SliceStable(byEpoch, func(a, b int) bool {
		return vs[byEpoch[a]].Epoch.Before(vs[byEpoch[b]].Epoch)
	})

	return &Table{
		generation: generation,
		token:      p.Token,
		source:     p.Source,
		fetchedAt:  p.FetchedAt,
		metadata:   p.Metadata,
		vectors:    vs,
		byEpoch:    byEpoch,
		index:      index,
	}, nil
}

func (t *Table) Generation() uint64 { return t.generation }
func (t *Table) Token() FreshnessToken { return t.token }
func (t *Table) Source() string { return t.source }
func (t *Table) FetchedAt() time.Time { return t.fetchedAt }
func (t *Table) Metadata() Metadata { return t.metadata }
func (t *Table) Len() int { return len(t.vectors) }
func (t *Table) At(i int) StateVector { return t.vectors[i] }

// Lookup returns the vector whose epoch equals at exactly.
func (t *Table) Lookup(at time.Time) (StateVector, bool) {
	i, ok := t.index[at.UnixNano()]
	if !ok {
		return StateVector{}, false
	}
	return t.vectors[i], true
}

// Slice returns a copy of up to limit vectors starting at offset, in
// provider order. Out-of-range windows are clipped, never an error.
func (t *Table) Slice(offset, limit int) []StateVector {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.vectors) || limit <= 0 {
		return []StateVector{}
	}
	end := len(t.vectors)
	if limit < end-offset {
		end = offset + limit
	}
	out := make([]StateVector, end-offset)
	copy(out, t.vectors[offset:end])
	return out
}

// Sorted returns a copy of every vector in ascending epoch order.
func (t *Table) Sorted() []StateVector {
	out := make([]StateVector, len(t.byEpoch))
	for i, idx := range t.byEpoch {
		out[i] = t.vectors[idx]
	}
	return out
}

// Span returns the earliest and latest epochs in the table.
func (t *Table) Span() (first, last time.Time) {
	return t.vectors[t.byEpoch[0]].Epoch, t.vectors[t.byEpoch[len(t.byEpoch)-1]].Epoch
}

// Payload returns the data the table was built from, for persistence.
func (t *Table) Payload() Payload {
	return Payload{
		Token:     t.token,
		Source:    t.source,
		FetchedAt: t.fetchedAt,
		Metadata:  t.metadata,
		Vectors:   t.Slice(0, len(t.vectors)),
	}
}
