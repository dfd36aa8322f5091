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
	"testing"
	"time"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestOgletest(t *testing.T) { RunTests(t) }

// UnrefPolicyTest exercises the unreferenced-invocation firing policy
// (property 7) directly against state, the way samples/memfs's suites
// exercise their file system directly rather than through a mount.
type UnrefPolicyTest struct {
}

func init() { RegisterTestSuite(&UnrefPolicyTest{}) }

func (t *UnrefPolicyTest) drain(fired chan struct{}) int {
	count := 0
	for {
		select {
		case <-fired:
			count++
		case <-time.After(200 * time.Millisecond):
			return count
		}
	}
}

func (t *UnrefPolicyTest) PlainUnrefFiresAtMostOnce() {
	fired := make(chan struct{}, 8)
	proc := func(cookie any, data []byte, isUnref bool) {
		if isUnref {
			fired <- struct{}{}
		}
		Return(nil)
	}

	s := newState(1, proc, nil, Unref, 1, 4096)
	s.acquire() // the accept loop's own reference

	for i := 0; i < 3; i++ {
		s.acquire()
		s.release()
	}

	ExpectEq(1, t.drain(fired))
}

func (t *UnrefPolicyTest) UnrefMultiFiresOnEveryReturnToBaseline() {
	fired := make(chan struct{}, 8)
	proc := func(cookie any, data []byte, isUnref bool) {
		if isUnref {
			fired <- struct{}{}
		}
		Return(nil)
	}

	s := newState(1, proc, nil, UnrefMulti, 1, 4096)
	s.acquire()

	for i := 0; i < 3; i++ {
		s.acquire()
		s.release()
		// The invocation's worker holds its own reference until it ends;
		// only then is the count back at the baseline of one.
		t.waitForRefcount(s, 1)
	}

	ExpectEq(3, t.drain(fired))
}

// waitForRefcount polls s until its refcount equals want, failing the test
// if that does not happen within two seconds.
func (t *UnrefPolicyTest) waitForRefcount(s *state, want int) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		rc := s.refcount
		s.mu.Unlock()
		if rc == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	AddFailure("refcount did not return to %d", want)
}

func (t *UnrefPolicyTest) RevokedDoorNeverFires() {
	fired := make(chan struct{}, 8)
	proc := func(cookie any, data []byte, isUnref bool) {
		if isUnref {
			fired <- struct{}{}
		}
		Return(nil)
	}

	s := newState(1, proc, nil, UnrefMulti, 1, 4096)
	s.acquire()
	s.acquire()
	s.markRevoked()
	s.release()

	ExpectEq(0, t.drain(fired))
}

func (t *UnrefPolicyTest) DataBoundsInvariantHoldsAfterConstruction() {
	s := newState(1, proc0, nil, 0, 1, 4096)
	min, max := s.dataBounds()
	ExpectTrue(min <= max)
}

var proc0 = func(cookie any, data []byte, isUnref bool) {}
