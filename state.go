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

package doors

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/jacobsa/syncutil"
	"github.com/jlango/doors/internal/transport"
)

// ServerProc is the type-erased callable a door invokes for every call,
// including the synthetic unreferenced invocation (isUnref true, data a
// non-nil empty slice).
// It must end by calling Return; if it returns without doing so, the
// worker treats that as a programming error and replies InvalidArgument
// rather than leaving the client hanging forever (Go has no analogue of a
// "does not return" function type).
type ServerProc func(cookie any, data []byte, isUnref bool)

// state is the runtime record for one local door (door_data in the
// original C source). Fields below the mutex are GUARDED_BY(mu); the
// listener is additionally only ever touched under mu. The table slot that
// may reference a state is deliberately not counted in refcount, mirroring
// the original implementation's comment that the table's reference is
// erased atomically by revoke rather than tracked.
type state struct {
	// Immutable after construction.
	targetPID int
	proc      ServerProc
	procPtr   uint64 // door_info_t.di_proc equivalent; see pointerValue
	cookie    any
	cookiePtr uint64 // door_info_t.di_data equivalent; see pointerValue
	id        uint64

	mu syncutil.InvariantMutex
	// cond is signaled whenever attached or revoked transitions to true, and
	// broadcast by revoke.
	cond *sync.Cond

	attr     Attr   // GUARDED_BY(mu)
	dataMin  uint64 // GUARDED_BY(mu)
	dataMax  uint64 // GUARDED_BY(mu)
	refcount int    // GUARDED_BY(mu)
	attached bool   // GUARDED_BY(mu)
	revoked  bool   // GUARDED_BY(mu)
	wasUnref bool   // GUARDED_BY(mu)

	listener *transport.Listener // GUARDED_BY(mu); set by attach, cleared by revoke
}

func newState(targetPID int, proc ServerProc, cookie any, attr Attr, id uint64, dataMax uint64) *state {
	s := &state{
		targetPID: targetPID,
		proc:      proc,
		procPtr:   pointerValue(proc),
		cookie:    cookie,
		cookiePtr: pointerValue(cookie),
		id:        id,
		attr:      attr,
		dataMin:   0,
		dataMax:   dataMax,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	s.cond = sync.NewCond(&s.mu)
	return s
}

// pointerValue extracts the address door_info_t would report for a field
// like di_proc or di_data: the server procedure and the cookie are
// Go-opaque values (a func and an any), not C pointers, so this only
// produces a meaningful address when v is itself a pointer-shaped value
// (a func, a pointer, a map, a chan); anything else -- an int cookie, a
// struct passed by value -- has no address to report and yields 0.
func pointerValue(v any) uint64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return 0
		}
		return uint64(rv.Pointer())
	default:
		return 0
	}
}

// checkInvariants is run by the InvariantMutex right after each Lock and
// right before each Unlock, when syncutil's invariant checking is enabled. It
// enforces the always-true properties from the data model section of the
// specification; any violation is a programming bug in this package, not a
// caller error, so it terminates the process rather than returning an
// error nobody is positioned to handle.
func (s *state) checkInvariants() {
	if s.refcount < 0 {
		fatalf("refcount", fmt.Sprintf("door %d refcount went negative", s.id))
	}
	if s.dataMin > s.dataMax {
		fatalf("data bounds", fmt.Sprintf("door %d: data_min %d > data_max %d", s.id, s.dataMin, s.dataMax))
	}
}

// acquire takes one reference on s for the calling task (the accept loop,
// taken in Create, or a dispatcher), clearing IsUnref per the
// specification's "any handle acquisition ... must clear IS_UNREF."
func (s *state) acquire() {
	s.mu.Lock()
	s.refcount++
	s.attr &^= IsUnref
	s.mu.Unlock()
}

// release drops one reference. When the count drops to one on a door that
// is not revoked and whose Unref/UnrefMulti policy allows it, it fires an
// unreferenced invocation; otherwise it only decrements. Reaching zero
// needs no explicit teardown here: the state is left to the garbage
// collector once nothing points at it.
func (s *state) release() {
	s.mu.Lock()
	if s.refcount <= 0 {
		s.mu.Unlock()
		fatalf("refcount", fmt.Sprintf("double release on door %d", s.id))
		return
	}

	s.refcount--

	fireUnref := !s.revoked && s.refcount == 1 &&
		(s.attr&UnrefMulti != 0 || (s.attr&Unref != 0 && !s.wasUnref))

	if fireUnref {
		s.wasUnref = true
		s.attr |= IsUnref
	}

	s.mu.Unlock()

	if fireUnref {
		// The new worker holds a reference for its duration, acquired before
		// spawning so the count can never again touch zero underneath it.
		// This must not go through acquire(): acquire clears IS_UNREF, but
		// the invocation needs it to stay set for the worker to observe.
		s.mu.Lock()
		s.refcount++
		s.mu.Unlock()
		go runUnreferencedInvocation(s)
	}
}

// releaseAfterUnrefWorker drops the self-held reference an unreferenced
// invocation's own worker takes for its duration (state.release, which
// acquires it before spawning runUnreferencedInvocation). Unlike release,
// it never re-evaluates the unreferenced-invocation firing policy: this
// reference is the invocation's own bookkeeping, not an external handle
// going away, so its departure must not recursively fire another
// invocation.
func (s *state) releaseAfterUnrefWorker() {
	s.mu.Lock()
	if s.refcount <= 0 {
		s.mu.Unlock()
		fatalf("refcount", fmt.Sprintf("double release on door %d", s.id))
		return
	}
	s.refcount--
	s.mu.Unlock()
}

// setAttached marks the door attached and wakes anyone waiting in the
// accept loop for attachment.
func (s *state) setAttached(l *transport.Listener) {
	s.mu.Lock()
	s.listener = l
	s.attached = true
	s.cond.Signal()
	s.mu.Unlock()
}

// markRevoked sets revoked, wakes every waiter, and returns the listener
// that was attached (if any) so the caller can close it outside the lock.
func (s *state) markRevoked() *transport.Listener {
	s.mu.Lock()
	s.revoked = true
	l := s.listener
	s.listener = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	return l
}

// waitForAttachedOrRevoked blocks until attached or revoked becomes true,
// per the accept loop's inner wait loop, and reports which.
func (s *state) waitForAttachedOrRevoked() (attached, revoked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.attached && !s.revoked {
		s.cond.Wait()
	}
	return s.attached, s.revoked
}

func (s *state) isRevoked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked
}

func (s *state) snapshotInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		TargetPID: uint64(s.targetPID),
		ProcPtr:   s.procPtr,
		Cookie:    s.cookiePtr,
		Attr:      s.attr | Local,
		ID:        s.id,
	}
}

func (s *state) getParam(p Param) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p {
	case ParamDataMax:
		return s.dataMax, nil
	case ParamDataMin:
		return s.dataMin, nil
	case ParamDescMax:
		return 0, nil
	default:
		return 0, newErr("getparam", InvalidArgument, fmt.Errorf("unknown param %v", p))
	}
}

// setParam holds the state mutex across the entire operation, including the
// data_min <= data_max cross-field check -- the specification's resolution
// of the source's "release then recheck" race (see DESIGN.md).
func (s *state) setParam(p Param, val uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p {
	case ParamDataMax:
		if val < s.dataMin {
			return newErr("setparam", InvalidArgument, fmt.Errorf("data_max %d < data_min %d", val, s.dataMin))
		}
		s.dataMax = val
		return nil
	case ParamDataMin:
		if val > s.dataMax {
			return newErr("setparam", InvalidArgument, fmt.Errorf("data_min %d > data_max %d", val, s.dataMax))
		}
		s.dataMin = val
		return nil
	case ParamDescMax:
		if val == 0 {
			return nil
		}
		if s.attr&RefuseDesc != 0 {
			return newErr("setparam", Unsupported, fmt.Errorf("REFUSE_DESC is set"))
		}
		return newErr("setparam", OutOfRange, fmt.Errorf("desc_max must be 0"))
	default:
		return newErr("setparam", InvalidArgument, fmt.Errorf("unknown param %v", p))
	}
}

func (s *state) dataBounds() (min, max uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataMin, s.dataMax
}
