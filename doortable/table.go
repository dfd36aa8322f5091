// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package doortable implements the process-wide mapping from a local
// descriptor to an optional owning reference to a door's runtime state.
//
// It is grounded on the guarded-map idiom of connection.go's
// cancelFuncs map, generalized to the reshape discipline door.c's
// resize_door_table requires: growth is exclusive, but a slot's own
// contents may be read or installed under only a shared acquisition,
// because two concurrent creations always land on distinct descriptors
// (door table invariant 1).
package doortable

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// initialCapacityCeiling is the table's initial size unless the OS reports a
// lower per-process descriptor limit (door.c's open_default).
const initialCapacityCeiling = 1024

// growthQuantum is the unit the table grows by (door.c's resize_door_table
// rounds up to the next kibi).
const growthQuantum = 1024

// Table is a process-wide, lazily-growing array of slots, each holding an
// atomically-swappable pointer to caller-defined per-door state of type T.
type Table[T any] struct {
	mu    sync.RWMutex
	limit int                  // OS-imposed ceiling; GrowTo never exceeds it
	slots []atomic.Pointer[T] // reshape GUARDED_BY(mu); element access is lock-free
}

// New creates a table whose initial capacity is the smaller of osLimit and
// 1024, matching door.c's init_door_table. osLimit <= 0 means "no fixed
// limit reported by the OS"; in that case the initial capacity is 1024 and
// growth is unbounded.
func New[T any](osLimit int) *Table[T] {
	limit := osLimit
	if limit <= 0 {
		limit = 1<<31 - 1
	}

	initial := initialCapacityCeiling
	if limit < initial {
		initial = limit
	}

	return &Table[T]{
		limit: limit,
		slots: make([]atomic.Pointer[T], initial),
	}
}

// Lookup returns the state installed at descriptor d, if any. It is a
// shared-mode, essentially lock-free operation.
func (t *Table[T]) Lookup(d int) (*T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if d < 0 || d >= len(t.slots) {
		return nil, false
	}

	v := t.slots[d].Load()
	return v, v != nil
}

// Install places v into slot d, which must already exist (callers that might
// be installing beyond the current capacity must call GrowTo first). It
// fails if the slot is already occupied.
func (t *Table[T]) Install(d int, v *T) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if d < 0 || d >= len(t.slots) {
		return fmt.Errorf("doortable: descriptor %d out of range", d)
	}

	if !t.slots[d].CompareAndSwap(nil, v) {
		return fmt.Errorf("doortable: slot %d already occupied", d)
	}

	return nil
}

// Take atomically removes and returns whatever was installed at d, used by
// revoke so that no lookup can observe the state once revocation has begun
// (door table invariant 3).
func (t *Table[T]) Take(d int) (*T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if d < 0 || d >= len(t.slots) {
		return nil, false
	}

	v := t.slots[d].Swap(nil)
	return v, v != nil
}

// GrowTo ensures the table has at least d+1 slots, rounding up to the next
// growthQuantum and never exceeding the OS-imposed limit. It never shrinks.
// Must not be called while any blocking operation is outstanding, per the
// package-wide lock-ordering rule: this call briefly takes the table lock
// in exclusive mode.
func (t *Table[T]) GrowTo(d int) error {
	if d < 0 {
		return fmt.Errorf("doortable: negative descriptor %d", d)
	}
	if d >= t.limit {
		return fmt.Errorf("doortable: descriptor %d exceeds OS limit %d", d, t.limit)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if d < len(t.slots) {
		// Lost a race to grow; someone else already did enough.
		return nil
	}

	newLen := (d + 1 + growthQuantum - 1) / growthQuantum * growthQuantum
	if newLen > t.limit {
		newLen = t.limit
	}

	grown := make([]atomic.Pointer[T], newLen)
	copy(grown, t.slots)
	t.slots = grown

	return nil
}

// Len reports the table's current capacity, for tests and diagnostics.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Teardown empties every slot and shrinks the table back to its initial
// shape, returning whatever was installed so the caller can release each
// value's resources outside the table lock. This is the "full teardown in
// the child after fork" exclusive operation door table invariant 1 and
// §4.2 call out distinctly from ordinary reshape.
func (t *Table[T]) Teardown() []*T {
	t.mu.Lock()
	defer t.mu.Unlock()

	var drained []*T
	for i := range t.slots {
		if v := t.slots[i].Swap(nil); v != nil {
			drained = append(drained, v)
		}
	}

	initial := initialCapacityCeiling
	if t.limit < initial {
		initial = t.limit
	}
	t.slots = make([]atomic.Pointer[T], initial)

	return drained
}
