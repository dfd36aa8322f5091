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
	"github.com/jlango/doors/internal/transport"
)

// runAcceptLoop is the per-door background task spawned by Create. It
// holds one reference to s for its own lifetime (acquired by the caller
// before spawning) and is structurally the teacher's Serve loop
// generalized from a single kernel device to a listening socket.
//
// A door attaches exactly once in this implementation: Detach unlinks only
// the filesystem path (see door.go), it never touches the listener, so
// there is no transient "socket stopped accepting" condition for this loop
// to wait out and no reattach to wake up for. The only way out of the inner
// accept loop is the listener being closed by Revoke, which this loop
// observes by rechecking s.isRevoked() on its way back to the top.
//
// rcvbuf is CreateConfig.RcvBuf; the loop does not use it, and Attach
// (which actually creates the listening endpoint) sizes the receive buffer
// from data_max instead; see door.go.
func runAcceptLoop(s *state, rcvbuf int) {
	defer s.release()

	for !s.isRevoked() {
		attached, revoked := s.waitForAttachedOrRevoked()
		if revoked {
			return
		}
		if !attached {
			continue
		}

		s.mu.Lock()
		l := s.listener
		s.mu.Unlock()
		if l == nil {
			continue
		}

		acceptUntilRevoked(s, l)
	}
}

// acceptUntilRevoked accepts connections on l until Accept fails, which in
// this implementation only happens once Revoke has closed l. There is
// nothing more this loop can do with a dead listening endpoint, so it
// returns either way and leaves the outer loop in runAcceptLoop to notice
// s.isRevoked() and exit.
func acceptUntilRevoked(s *state, l *transport.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		s.acquire()
		if !spawnDispatcher(s, conn) {
			conn.Close()
			s.release()
		}
	}
}
