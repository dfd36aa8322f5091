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

// Package echofs implements the server procedure from the "hello world"
// scenario: it copies its inbound payload to a configured writer, then
// replies with the payload's length as a little-endian uint64, the way a
// door server hands back a fixed-size size_t rather than echoing the bytes
// themselves.
package echofs

import (
	"encoding/binary"
	"io"

	"github.com/jlango/doors"
)

// Cookie is the per-door context Proc expects: where to copy each inbound
// payload.
type Cookie struct {
	Out io.Writer
}

// Proc is a doors.ServerProc. The unreferenced invocation (isUnref true)
// just replies with an empty body; this sample has no per-door cleanup to
// do when it fires.
func Proc(cookie any, data []byte, isUnref bool) {
	if isUnref {
		doors.Return(nil)
		return
	}

	c := cookie.(*Cookie)
	if len(data) > 0 {
		c.Out.Write(data)
	}

	reply := make([]byte, 8)
	binary.LittleEndian.PutUint64(reply, uint64(len(data)))
	doors.Return(reply)
}
