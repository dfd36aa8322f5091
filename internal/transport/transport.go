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

// Package transport wraps the raw AF_UNIX/SOCK_SEQPACKET socket calls that
// back a door endpoint, playing the same role for this project that
// bazilfuse/the raw /dev/fuse device descriptor plays for the teacher:
// every connection ends up as a plain *os.File so the rest of the runtime
// can Read/Write/Close it without caring that it started life as a raw fd
// (cf. mount_darwin.go's openOSXFUSEDev wrapping a device fd in *os.File).
//
// SOCK_SEQPACKET preserves message boundaries the way the wire protocol
// requires: a single Recvmsg call returns exactly one frame, never a
// partial or coalesced one, so "peek the header, then read header+payload
// atomically" (wire protocol section of the specification) is implemented
// as two recvfrom calls on the same unread datagram rather than a buffered
// byte-stream reassembly.
package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MaxHeaderSize is large enough to hold any fixed-layout frame header this
// protocol defines (see package wire). Nothing in this module references it:
// callers of PeekHeader pass the exact size of the header they expect.
const MaxHeaderSize = 40

// Listener is a bound, listening SOCK_SEQPACKET endpoint.
type Listener struct {
	fd int
}

// Listen creates a listening local endpoint with at least rcvbuf bytes of
// receive buffer, binds it at path under a temporarily tightened umask (so
// that nothing can access the node before the caller chmods it), and marks
// it close-on-exec.
//
// Umask is process-wide; concurrent unrelated umask changes from other
// goroutines during this call are not isolated against, matching the
// specification's accepted non-thread-safety of door_attach's umask
// handling.
func Listen(path string, rcvbuf int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if rcvbuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("setsockopt(SO_RCVBUF): %w", err)
		}
	}

	old := unix.Umask(0o777)
	bindErr := unix.Bind(fd, &unix.SockaddrUnix{Name: path})
	unix.Umask(old)

	if bindErr != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind(%q): %w", path, bindErr)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Listener{fd: fd}, nil
}

// RecvBufSize reports the receive buffer size the kernel actually granted,
// used to derive a door's default data_max.
func (l *Listener) RecvBufSize() (int, error) {
	n, err := unix.GetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return 0, fmt.Errorf("getsockopt(SO_RCVBUF): %w", err)
	}
	return n, nil
}

// Accept blocks for the next incoming connection and returns it as a plain
// *os.File wrapping the accepted descriptor, close-on-exec.
func (l *Listener) Accept() (*os.File, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(nfd), "door-conn"), nil
}

// Close stops accepting new connections. Already-accepted connections are
// unaffected. The socket is shut down before its descriptor is closed:
// close(2) alone does not wake a goroutine blocked in Accept, shutdown(2)
// makes that Accept return an error.
func (l *Listener) Close() error {
	unix.Shutdown(l.fd, unix.SHUT_RDWR)
	return unix.Close(l.fd)
}

// Connect dials the door bound at path, returning the client end as a plain
// *os.File, close-on-exec.
func Connect(path string) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect(%q): %w", path, err)
	}

	return os.NewFile(uintptr(fd), "door-client"), nil
}

// PeekHeader returns the leading n bytes of the next undelivered message on
// conn without consuming it, so the caller can inspect the frame's code
// (and, for variable-length frames, its fixed header) before deciding how
// large a buffer the full read needs.
func PeekHeader(conn *os.File, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, _, err := unix.Recvfrom(int(conn.Fd()), buf, unix.MSG_PEEK)
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}

// ReadMessage consumes exactly one complete datagram, sized large enough to
// hold up to maxSize bytes. Because SOCK_SEQPACKET preserves message
// boundaries, this single call returns the full frame that PeekHeader most
// recently previewed, satisfying "read header+payload atomically."
func ReadMessage(conn *os.File, maxSize int) ([]byte, error) {
	buf := make([]byte, maxSize)
	n, _, err := unix.Recvfrom(int(conn.Fd()), buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteMessage sends a single complete frame atomically.
func WriteMessage(conn *os.File, frame []byte) error {
	return unix.Sendto(int(conn.Fd()), frame, 0, nil)
}

// Unlink removes the filesystem node at path if it exists and is a
// Unix-domain socket, matching door_detach's verification step. It is not
// an error if the node does not exist.
func Unlink(path string) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lstat(%q): %w", path, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return fmt.Errorf("%q is not a local-socket node", path)
	}

	if err := unix.Unlink(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink(%q): %w", path, err)
	}

	return nil
}
