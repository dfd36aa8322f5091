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
	"os"
	"sync"

	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"

	"github.com/jlango/doors/doorid"
	"github.com/jlango/doors/doortable"
)

// runtimeState is the process-wide singleton described in the design
// notes: the door table, the identity generator, and the fork-coordinator
// lock all live here, constructed lazily on first server-side use and torn
// down to this same pre-init shape by ChildAfterFork.
type runtimeState struct {
	table *doortable.Table[state]
	gen   *doorid.Generator

	// descMu serializes descriptor allocation. allocDescriptor holds it
	// across its GrowTo/Install calls, each of which takes and releases the
	// table lock internally; no path takes descMu while holding the table
	// lock.
	descMu sync.Mutex
	nextFD int

	// forkMu is the fork coordinator's table-lock surrogate: PrepareFork
	// acquires it, ParentAfterFork releases it, ChildAfterFork drains the
	// table and resets nextFD under it. Create holds it for its whole
	// duration, so a held forkMu blocks new Create calls and with them every
	// table reshape. It is distinct from table.mu because Create must not
	// hold the table lock while it allocates and spawns.
	forkMu sync.Mutex
}

var (
	rtOnce sync.Once
	rt     *runtimeState
)

// osFileLimit reports the process's open-file soft limit, used to cap the
// door table's growth (door.c's open_default reads RLIMIT_NOFILE the same
// way). A Getrlimit failure is treated as "no limit known" rather than a
// fatal error, since the table falls back to an effectively unbounded cap.
func osFileLimit() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	if rl.Cur > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(rl.Cur)
}

func getRuntime() *runtimeState {
	rtOnce.Do(func() {
		rt = newRuntime()
	})
	return rt
}

func newRuntime() *runtimeState {
	return &runtimeState{
		table:  doortable.New[state](osFileLimit()),
		gen:    doorid.New(os.Getpid(), timeutil.RealClock()),
		nextFD: 0,
	}
}

// allocDescriptor installs s at the next descriptor number not yet handed
// out (nextFD, skipping any occupied slot), growing the table as needed.
// Descriptors freed by Revoke are not reused; only ChildAfterFork resets
// nextFD to 0. It never holds the table's own lock while
// spawning anything, satisfying the "blocking operations must never be
// invoked while holding the table lock" requirement: GrowTo/Install each
// take and release the table lock internally, and descMu only serializes
// this function's own retry loop.
func (r *runtimeState) allocDescriptor(s *state) (int, error) {
	r.descMu.Lock()
	defer r.descMu.Unlock()

	for {
		d := r.nextFD
		if err := r.table.GrowTo(d); err != nil {
			return 0, newErr("create", TooManyDescriptors, err)
		}
		if err := r.table.Install(d, s); err != nil {
			r.nextFD++
			continue
		}
		r.nextFD++
		return d, nil
	}
}

