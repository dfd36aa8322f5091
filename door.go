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
	"fmt"
	"os"

	"github.com/jlango/doors/internal/transport"
	"github.com/jlango/doors/wire"
)

// defaultRcvBuf is used to derive data_max when CreateConfig does not name
// one explicitly. The original runtime probes the listening socket's
// granted SO_RCVBUF at create time; here socket creation is deferred to
// Attach (SOCK_SEQPACKET bind needs a path, which Create does not yet
// have), so a fixed default stands in. Attach requests data_max plus the
// call header as the receive buffer and lowers data_max only if the kernel
// grants less than that; a data_max set through CreateConfig or SetParam is
// otherwise kept as is. See DESIGN.md.
const defaultRcvBuf = 16 * 1024

// CreateConfig carries the tunables Create accepts beyond the server
// procedure itself.
type CreateConfig struct {
	// DataMax overrides the default payload ceiling. Zero means "derive
	// from the default receive buffer size."
	DataMax uint64
	// RcvBuf is accepted but not used: Attach always sizes the listening
	// endpoint's receive buffer as data_max plus the call header.
	RcvBuf int
}

// Descriptor is the server-side handle returned by Create: an opaque
// integer slot in the process door table plus a direct pointer to the
// backing state. Attach/Info/GetParam/SetParam/Revoke look the slot up in
// the table on every call and compare what they find against that pointer,
// so validity is always reconfirmed against the table (door table
// invariant 2).
type Descriptor struct {
	fd int
	s  *state
}

// Create registers proc as a local door, bound to no path yet, and returns
// a Descriptor identifying it. The accept loop (C5) is spawned immediately
// but idles until a subsequent Attach.
func Create(proc ServerProc, cookie any, attrs Attr, cfg CreateConfig) (*Descriptor, error) {
	if proc == nil {
		return nil, newErr("create", InvalidArgument, fmt.Errorf("nil ServerProc"))
	}
	if attrs&^knownAttrs != 0 {
		return nil, newErr("create", InvalidArgument, fmt.Errorf("unrecognized attribute bits %#x", attrs&^knownAttrs))
	}

	r := getRuntime()
	r.forkMu.Lock()
	defer r.forkMu.Unlock()

	dataMax := cfg.DataMax
	if dataMax == 0 {
		dataMax = uint64(defaultRcvBuf) - wire.CallHeaderSize
	}

	id := r.gen.Next()
	s := newState(os.Getpid(), proc, cookie, attrs&^IsUnref, uint64(id), dataMax)

	fd, err := r.allocDescriptor(s)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{fd: fd, s: s}

	s.acquire() // the accept loop's own reference, per §4.4 step 1
	go runAcceptLoop(s, cfg.RcvBuf)

	getLogger().Println("created door", d.fd, "id", id)
	return d, nil
}

// lookupLive resolves a Descriptor through the table, returning
// BadDescriptor if it has since been revoked -- the table, not the cached
// pointer, is the source of truth for validity (door table invariant 2).
func lookupLive(d *Descriptor) (*state, error) {
	s, ok := getRuntime().table.Lookup(d.fd)
	if !ok || s != d.s {
		return nil, newErr("lookup", BadDescriptor, fmt.Errorf("descriptor %d is not a local door", d.fd))
	}
	return s, nil
}

// Attach binds d into the filesystem namespace at path so that clients can
// reach it with Open. Ownership note: the umask tightened for the bind is
// process-wide and not isolated from concurrent unrelated umask changes,
// matching the accepted non-thread-safety of the original attach
// primitive.
func Attach(d *Descriptor, path string) error {
	s, err := lookupLive(d)
	if err != nil {
		return err
	}

	_, dataMax := s.dataBounds()
	rcvbuf := int(dataMax) + wire.CallHeaderSize

	l, err := transport.Listen(path, rcvbuf)
	if err != nil {
		return newErr("attach", IoFailure, err)
	}

	if granted, err := l.RecvBufSize(); err == nil && granted > wire.CallHeaderSize {
		if g := uint64(granted - wire.CallHeaderSize); g < dataMax {
			s.setParam(ParamDataMax, g)
		}
	}

	s.setAttached(l)
	getLogger().Println("attached door", d.fd, "at", path)
	return nil
}

// Detach unbinds the filesystem node at path and nothing else: it does not
// take a Descriptor, does not touch any DoorState's attached flag, listener,
// or refcount, and does not wake or otherwise affect that door's accept
// loop. It purely removes the namespace entry, matching the specification's
// literal text for detach -- a door has no "detached, then reattached"
// state in this implementation, only "attached" and "revoked." The normal
// shutdown sequence is Revoke (stop the listener, fence off new calls)
// followed by Detach (clean up the now-orphaned path entry), as in
// cmd/doorecho. It is not an error if the node is already gone.
func Detach(path string) error {
	if err := transport.Unlink(path); err != nil {
		return newErr("detach", NotPermitted, err)
	}
	return nil
}

// Info reports everything a caller can learn about d without calling it.
func Info(d *Descriptor) (Info, error) {
	s, err := lookupLive(d)
	if err != nil {
		return Info{}, err
	}
	return s.snapshotInfo(), nil
}

// GetParam reads one of DATA_MIN/DATA_MAX/DESC_MAX.
func GetParam(d *Descriptor, which Param) (uint64, error) {
	s, err := lookupLive(d)
	if err != nil {
		return 0, err
	}
	return s.getParam(which)
}

// SetParam updates DATA_MIN/DATA_MAX, holding the state mutex across the
// entire cross-field check (the Open Question resolution recorded in
// DESIGN.md). DESC_MAX may only be set to zero.
func SetParam(d *Descriptor, which Param, val uint64) error {
	s, err := lookupLive(d)
	if err != nil {
		return err
	}
	return s.setParam(which, val)
}

// Revoke makes d permanently unreachable for new calls. Established
// connections may complete; no new ones are accepted afterward. Calling
// Revoke twice fails the second time with BadDescriptor and performs no
// double release.
func Revoke(d *Descriptor) error {
	s, ok := getRuntime().table.Take(d.fd)
	if !ok || s != d.s {
		return newErr("revoke", BadDescriptor, fmt.Errorf("descriptor %d is not a local door", d.fd))
	}

	l := s.markRevoked()
	if l != nil {
		l.Close()
	}

	getLogger().Println("revoked door", d.fd)
	return nil
}
