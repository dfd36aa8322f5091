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

// Package doors implements a Doors-style synchronous local RPC primitive: a
// server process exposes named endpoints bound into the filesystem
// namespace; any client process may invoke a server procedure by
// transmitting a request and blocking until the server replies.
//
// The primary elements of interest are:
//
//   - Create, which registers a ServerProc as a local door and returns a
//     Descriptor for it.
//
//   - Attach, which binds a door into the filesystem namespace so that
//     clients can reach it with Open.
//
//   - Open and (*ClientHandle).Call, which let a client invoke the server
//     procedure bound to a path and block for its reply.
//
//   - Return, callable only from within a running ServerProc, which sends
//     the reply and ends the worker goroutine handling the call.
//
// Doors are modeled on Sun Solaris doors, but the transport here is an
// ordinary AF_UNIX SOCK_SEQPACKET socket: no kernel support for the doors
// primitive itself is assumed.
package doors
