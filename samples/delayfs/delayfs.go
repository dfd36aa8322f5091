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

// Package delayfs implements the server procedure from the "three
// concurrent delayed calls" scenario: it sleeps for a configured duration
// and then replies with that duration, in whole seconds, as a
// little-endian uint64.
package delayfs

import (
	"encoding/binary"
	"time"

	"github.com/jlango/doors"
)

// Cookie is the per-door context Proc expects.
type Cookie struct {
	Delay time.Duration
}

// Proc is a doors.ServerProc.
func Proc(cookie any, data []byte, isUnref bool) {
	if isUnref {
		doors.Return(nil)
		return
	}

	c := cookie.(*Cookie)
	time.Sleep(c.Delay)

	reply := make([]byte, 8)
	binary.LittleEndian.PutUint64(reply, uint64(c.Delay/time.Second))
	doors.Return(reply)
}
