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

// Attr is a bitset over the attributes a door can carry, matching the
// DOOR_* flags of include/door.h.
type Attr uint32

const (
	RefuseDesc Attr = 0x001
	Unref      Attr = 0x002
	UnrefMulti Attr = 0x004
	Private    Attr = 0x008
	NoCancel   Attr = 0x010
	Local      Attr = 0x020
	Revoked    Attr = 0x040
	IsUnref    Attr = 0x080
)

// knownAttrs is the full set of bits Create will accept; any other bit set
// in the caller-supplied Attr is InvalidArgument.
const knownAttrs = RefuseDesc | Unref | UnrefMulti | Private | NoCancel | Local | Revoked | IsUnref

// Param names a tunable queried or set through GetParam/SetParam.
type Param int

const (
	ParamDataMax Param = iota
	ParamDataMin
	ParamDescMax
)

// Info mirrors door_info_t: everything a client can learn about a door
// without calling it.
type Info struct {
	TargetPID uint64
	ProcPtr   uint64
	Cookie    uint64
	Attr      Attr
	ID        uint64
}
