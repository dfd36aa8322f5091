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

// PrepareFork, ParentAfterFork, and ChildAfterFork are the Go analogue of
// the original runtime's pthread_atfork triple. Go's runtime does not
// support a bare fork() in a multi-threaded process -- goroutines and the
// scheduler do not survive it -- so there is no hook this package can
// register automatically. A caller that is about to fork and exec (for
// example via os/exec, or a hand-rolled syscall.ForkExec re-exec) must call
// these three functions itself around the fork, in order:
//
//	doors.PrepareFork()
//	pid, err := syscall.ForkExec(...)
//	if pid == 0 {
//	    doors.ChildAfterFork() // never reached: ForkExec does not return in the child
//	} else {
//	    doors.ParentAfterFork()
//	}
//
// This mirrors the standard library's own syscall.ForkLock idiom: acquire
// a lock before forking, release it in the parent, and leave the
// post-fork child to its own cleanup before any exec replaces its image.
func PrepareFork() {
	getRuntime().forkMu.Lock()
}

// ParentAfterFork releases the lock PrepareFork took, resuming normal
// operation in the parent process.
func ParentAfterFork() {
	getRuntime().forkMu.Unlock()
}

// ChildAfterFork tears the runtime down to its pre-initialized shape: every
// occupied table slot is closed and dropped, and the table itself shrinks
// back to its initial capacity, so the child starts with no doors and no
// descriptors inherited from the parent's listening endpoints.
//
// It must be called exactly once, in the child, after PrepareFork and
// before any door API call -- and only in processes that do not
// immediately exec (a successful exec replaces the image, making this
// moot).
func ChildAfterFork() {
	r := getRuntime()
	defer r.forkMu.Unlock()

	drained := r.table.Teardown()
	for _, s := range drained {
		s.mu.Lock()
		l := s.listener
		s.listener = nil
		s.revoked = true
		s.mu.Unlock()
		if l != nil {
			l.Close()
		}
	}

	r.descMu.Lock()
	r.nextFD = 0
	r.descMu.Unlock()
}
