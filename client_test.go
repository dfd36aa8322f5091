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

package doors_test

import (
	"path/filepath"
	"testing"

	"github.com/jlango/doors"
)

func TestOpenNonexistentPathFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := doors.Open(filepath.Join(dir, "nope")); err == nil {
		t.Errorf("expected Open of a nonexistent path to fail")
	}
}

// Round-trip property (4): a sufficiently large caller-supplied RBuf is
// reused rather than replaced.
func TestCallReusesSufficientlyLargeRBuf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reuse")

	d, err := doors.Create(echoProc, &echoCookie{}, doors.RefuseDesc, doors.CreateConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer doors.Revoke(d)
	if err := doors.Attach(d, path); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	c, err := doors.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	rbuf := make([]byte, 64)
	arg := &doors.Arg{Data: []byte("hi"), RBuf: rbuf}
	if err := c.Call(arg); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if len(arg.Result) == 0 || &arg.Result[0] != &rbuf[0] {
		t.Errorf("Call allocated a new buffer instead of reusing RBuf")
	}
}

// A reply larger than the supplied RBuf must grow rather than overflow it.
func TestCallGrowsUndersizedRBuf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow")

	d, err := doors.Create(echoProc, &echoCookie{}, doors.RefuseDesc, doors.CreateConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer doors.Revoke(d)
	if err := doors.Attach(d, path); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	c, err := doors.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	rbuf := make([]byte, 4) // echoProc always replies with 8 bytes
	arg := &doors.Arg{Data: []byte("hi"), RBuf: rbuf}
	if err := c.Call(arg); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if len(arg.Result) != 8 {
		t.Fatalf("len(Result) = %d, want 8", len(arg.Result))
	}
}
