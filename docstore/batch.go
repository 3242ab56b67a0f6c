package docstore

import (
	"fmt"
)

type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteSet
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	}
	return "unknown"
}

// Write is one operation of a Batch. Data and Updates are normalized.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       map[string]any
	Updates    []Update
	// Condition guards an update. It is evaluated against the stored
	// document inside the commit. When it does not hold the write is
	// skipped if SkipUnmet is set and the commit fails otherwise.
	Condition *Filter
	SkipUnmet bool
}

// Check evaluates the write's condition against the stored document data.
// It reports whether the write should be applied, or a PreconditionError
// when the unmet condition must fail the commit.
func (w Write) Check(data map[string]any) (bool, error) {
	if w.Condition == nil {
		return true, nil
	}
	v, ok := Lookup(data, w.Condition.Path)
	if ok && matchFilter(v, *w.Condition) {
		return true, nil
	}
	if w.SkipUnmet {
		return false, nil
	}
	return false, &PreconditionError{Collection: w.Collection, ID: w.ID, Condition: *w.Condition}
}

// Batch collects writes that a store applies atomically: all of them or none.
type Batch struct {
	writes []Write
	err    error
}

func NewBatch() *Batch {
	return &Batch{}
}

// Create writes a new document; the commit fails with ErrAlreadyExists when
// the document exists.
func (b *Batch) Create(collection, id string, data map[string]any) *Batch {
	return b.addData(WriteCreate, collection, id, data)
}

// Set replaces the whole document, creating it if absent.
func (b *Batch) Set(collection, id string, data map[string]any) *Batch {
	return b.addData(WriteSet, collection, id, data)
}

// Update merge-patches an existing document; the commit fails with
// ErrNotFound when the document is absent.
func (b *Batch) Update(collection, id string, updates ...Update) *Batch {
	return b.addUpdate(collection, id, nil, false, updates)
}

// UpdateIf is Update guarded by cond: the commit fails with
// ErrFailedPrecondition when the stored document does not satisfy it.
func (b *Batch) UpdateIf(collection, id string, cond Filter, updates ...Update) *Batch {
	return b.addUpdate(collection, id, &cond, false, updates)
}

// UpdateWhen is Update guarded by cond: the write is dropped, and the rest of
// the batch still commits, when the stored document does not satisfy it.
func (b *Batch) UpdateWhen(collection, id string, cond Filter, updates ...Update) *Batch {
	return b.addUpdate(collection, id, &cond, true, updates)
}

func (b *Batch) addUpdate(collection, id string, cond *Filter, skip bool, updates []Update) *Batch {
	if !b.checkRef(collection, id) {
		return b
	}
	normalized, err := NormalizeUpdates(updates)
	if err != nil {
		b.fail(fmt.Errorf("update %s/%s: %w", collection, id, err))
		return b
	}
	w := Write{Kind: WriteUpdate, Collection: collection, ID: id, Updates: normalized, SkipUnmet: skip}
	if cond != nil {
		c, err := normalizeCondition(*cond)
		if err != nil {
			b.fail(fmt.Errorf("update %s/%s: %w", collection, id, err))
			return b
		}
		w.Condition = &c
	}
	b.writes = append(b.writes, w)
	return b
}

func normalizeCondition(f Filter) (Filter, error) {
	q, err := From("_").Where(f.Path, f.Op, f.Value).Validate()
	if err != nil {
		return f, err
	}
	return q.Filters[0], nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (b *Batch) Delete(collection, id string) *Batch {
	if !b.checkRef(collection, id) {
		return b
	}
	b.writes = append(b.writes, Write{Kind: WriteDelete, Collection: collection, ID: id})
	return b
}

func (b *Batch) addData(kind WriteKind, collection, id string, data map[string]any) *Batch {
	if !b.checkRef(collection, id) {
		return b
	}
	normalized, err := NormalizeMap(data)
	if err != nil {
		b.fail(fmt.Errorf("%s %s/%s: %w", kind, collection, id, err))
		return b
	}
	b.writes = append(b.writes, Write{Kind: kind, Collection: collection, ID: id, Data: normalized})
	return b
}

func (b *Batch) checkRef(collection, id string) bool {
	if collection == "" || id == "" {
		b.fail(fmt.Errorf("%w: collection and id are required", ErrInvalidValue))
		return false
	}
	return true
}

func (b *Batch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first error recorded while building the batch.
func (b *Batch) Err() error {
	return b.err
}

// Writes returns the batched writes in order.
func (b *Batch) Writes() []Write {
	return b.writes
}

func (b *Batch) Len() int {
	return len(b.writes)
}

// Collections lists the distinct collections touched by the batch.
func (b *Batch) Collections() []string {
	seen := make(map[string]bool, len(b.writes))
	var out []string
	for _, w := range b.writes {
		if !seen[w.Collection] {
			seen[w.Collection] = true
			out = append(out, w.Collection)
		}
	}
	return out
}
