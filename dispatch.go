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

	"github.com/jlango/doors/internal/transport"
	"github.com/jlango/doors/wire"
)

// spawnDispatcher starts the per-connection dispatcher goroutine. It always
// succeeds in Go (goroutine creation cannot fail the way a thread spawn
// can), but keeps a bool return so the accept loop's "release on spawn
// failure" branch (acceptloop.go) stays meaningful if that ever changes.
func spawnDispatcher(s *state, conn *os.File) bool {
	go dispatchConn(s, conn)
	return true
}

// dispatchConn owns one accepted connection plus one reference on s. It is
// a byte-code switch in the same spirit as the teacher's type-switch
// request dispatch, logging the code of each received frame through the
// shared debug logger; replies are not logged.
func dispatchConn(s *state, conn *os.File) {
	for {
		code, ok := peekCode(conn)
		if !ok {
			conn.Close()
			s.release()
			return
		}

		getLogger().Println("received:", code)

		switch code {
		case wire.CodeRequest:
			if !handleRequest(s, conn) {
				conn.Close()
				s.release()
				return
			}

		case wire.CodeDoorCall:
			if !handleCall(s, conn) {
				conn.Close()
				s.release()
				return
			}
			// Ownership of conn and the reference passes to the worker.
			return

		default:
			writeError(conn, int32(Unsupported))
			conn.Close()
			s.release()
			return
		}
	}
}

func peekCode(conn *os.File) (wire.Code, bool) {
	b, err := transport.PeekHeader(conn, 4)
	if err != nil || len(b) < 4 {
		return 0, false
	}
	return wire.PeekCode(b), true
}

func writeError(conn *os.File, errno int32) {
	frame := wire.ErrorFrame{Value: errno}.Marshal()
	transport.WriteMessage(conn, frame)
}

// handleRequest answers one info/getparam request and reports whether the
// connection should stay open for further requests.
func handleRequest(s *state, conn *os.File) bool {
	buf, err := transport.ReadMessage(conn, wire.RequestFrameSize)
	if err != nil {
		return false
	}
	req, ok := wire.DecodeRequestFrame(buf)
	if !ok {
		writeError(conn, int32(BadMessage))
		return false
	}

	switch req.Sub {
	case wire.ReqInfo:
		info := s.snapshotInfo()
		frame := wire.InfoFrame{
			Attr:      uint32(info.Attr),
			TargetPID: info.TargetPID,
			ProcPtr:   info.ProcPtr,
			Cookie:    info.Cookie,
			ID:        info.ID,
		}.Marshal()
		return transport.WriteMessage(conn, frame) == nil

	case wire.ReqDataMax:
		return replyGetParam(conn, s, ParamDataMax)

	case wire.ReqDataMin:
		return replyGetParam(conn, s, ParamDataMin)

	case wire.ReqDescMax:
		return replyGetParam(conn, s, ParamDescMax)

	default:
		writeError(conn, int32(InvalidArgument))
		return true
	}
}

func replyGetParam(conn *os.File, s *state, p Param) bool {
	val, err := s.getParam(p)
	if err != nil {
		writeError(conn, int32(InvalidArgument))
		return true
	}
	frame := wire.GetParamReplyFrame{Param: uint32(p), Value: val}.Marshal()
	return transport.WriteMessage(conn, frame) == nil
}

// handleCall validates and reads one door_call frame and spawns the
// server-procedure worker (C7) to own the rest of this connection's life.
// It reports false when the connection must be torn down by the caller
// (malformed or out-of-bounds call); in that case no worker is spawned.
func handleCall(s *state, conn *os.File) bool {
	hdrBuf, err := transport.PeekHeader(conn, wire.CallHeaderSize)
	if err != nil {
		return false
	}
	hdr, ok := wire.DecodeCallHeader(hdrBuf)
	if !ok {
		writeError(conn, int32(BadMessage))
		return false
	}

	if hdr.NDesc != 0 {
		writeError(conn, int32(TooManyDescriptors))
		return false
	}

	dataMin, dataMax := s.dataBounds()
	if hdr.ArgSize < dataMin || hdr.ArgSize > dataMax {
		writeError(conn, int32(NoBuffers))
		return false
	}

	total := wire.CallHeaderSize + int(hdr.ArgSize)
	full, err := transport.ReadMessage(conn, total)
	if err != nil || len(full) != total {
		return false
	}

	payload := append([]byte(nil), full[wire.CallHeaderSize:]...)
	spawnWorker(s, conn, payload, false)
	return true
}
