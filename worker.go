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
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/jacobsa/reqtrace"

	"github.com/jlango/doors/internal/transport"
	"github.com/jlango/doors/wire"
)

// callContext is the per-invocation record a worker goroutine stashes so
// that the free function Return can find its way back to the right
// connection. conn is nil for the synthetic unreferenced invocation, whose
// stored handle is an invalid sentinel that Return must not write to.
type callContext struct {
	conn   *os.File
	done   bool
	report reqtrace.ReportFunc
}

// activeCalls associates a running worker goroutine with its callContext.
// A door worker handles exactly one call before its goroutine ends, so a
// goroutine-id-keyed map gives the same effect as thread-local storage
// without a global per-call map that outlives its single use.
var activeCalls sync.Map // int64 goroutine id -> *callContext

// goroutineID recovers the runtime's own numbering for the calling
// goroutine by parsing the header line runtime.Stack always writes first.
// This is the standard workaround for Go's lack of exposed goroutine-local
// storage; it is only ever used to key activeCalls, never to make
// scheduling decisions.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return -1
	}
	b = b[len(prefix):]
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}

	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

// spawnWorker starts the goroutine that owns conn, payload, and the door's
// reference for exactly one invocation of s.proc, per §4.6. conn is nil
// only for the unreferenced invocation.
func spawnWorker(s *state, conn *os.File, payload []byte, isUnref bool) {
	go runWorker(s, conn, payload, isUnref)
}

// runUnreferencedInvocation fires the synthetic unreferenced call: no
// connection, a distinguished non-nil zero-length payload, isUnref true.
func runUnreferencedInvocation(s *state) {
	runWorker(s, nil, []byte{}, true)
}

func runWorker(s *state, conn *os.File, payload []byte, isUnref bool) {
	spanName := "door call"
	if isUnref {
		spanName = "unreferenced invocation"
	}
	_, report := reqtrace.StartSpan(context.Background(), spanName)

	call := &callContext{conn: conn, report: report}
	gid := goroutineID()
	activeCalls.Store(gid, call)

	defer func() {
		activeCalls.Delete(gid)
		if conn != nil {
			if !call.done {
				// The server procedure returned without calling Return: a bug
				// in the caller-supplied procedure, not this runtime. Reply
				// rather than leave the client blocked forever.
				writeError(conn, int32(InvalidArgument))
				call.report(fmt.Errorf("server procedure returned without calling Return"))
			}
			conn.Close()
		} else if !call.done {
			call.report(fmt.Errorf("server procedure returned without calling Return"))
		}
		if isUnref {
			// This reference is the invocation's own bookkeeping (see
			// state.release), not the dispatcher's inherited reference, so
			// its departure must not re-evaluate the firing policy.
			s.releaseAfterUnrefWorker()
		} else {
			s.release()
		}
	}()

	s.proc(s.cookie, payload, isUnref)
}

// Return is the server procedure's only legal exit for a reply. It must run
// on the same goroutine the procedure is executing on.
//
// On success it ends the calling goroutine with runtime.Goexit after the
// reply is written, so control never returns to the server procedure's own
// call frame -- Go's closest analogue of a C function documented as never
// returning to its caller. On failure (validation, or a write error) it
// returns an ordinary error and the goroutine keeps running, so the server
// procedure can observe the failure.
func Return(data []byte) error {
	gid := goroutineID()
	v, ok := activeCalls.Load(gid)
	if !ok {
		return newErr("return", InvalidArgument, fmt.Errorf("not called from inside a running ServerProc"))
	}

	call := v.(*callContext)
	if call.done {
		return newErr("return", InvalidArgument, fmt.Errorf("return already called for this invocation"))
	}

	if call.conn != nil {
		frame := wire.MarshalReturn(data)
		if err := transport.WriteMessage(call.conn, frame); err != nil {
			return newErr("return", IoFailure, err)
		}
	}

	call.done = true
	call.report(nil)
	runtime.Goexit()
	panic("unreachable: runtime.Goexit does not return")
}
