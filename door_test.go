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
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/jlango/doors"
)

type echoCookie struct {
	buf bytes.Buffer
}

func echoProc(cookie any, data []byte, isUnref bool) {
	if isUnref {
		doors.Return(nil)
		return
	}

	c := cookie.(*echoCookie)
	c.buf.Write(data)

	reply := make([]byte, 8)
	binary.LittleEndian.PutUint64(reply, uint64(len(data)))
	doors.Return(reply)
}

// S1 -- hello world.
func TestHelloWorld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "door1")

	cookie := &echoCookie{}
	d, err := doors.Create(echoProc, cookie, doors.RefuseDesc, doors.CreateConfig{})
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

	arg := &doors.Arg{Data: []byte("Hello, world!")}
	if err := c.Call(arg); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(arg.Result) != 8 {
		t.Fatalf("len(Result) = %d, want 8", len(arg.Result))
	}
	if got := binary.LittleEndian.Uint64(arg.Result); got != 13 {
		t.Errorf("reported length = %d, want 13", got)
	}
	if cookie.buf.String() != "Hello, world!" {
		t.Errorf("server observed payload %q", cookie.buf.String())
	}

	c2, err := doors.Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer c2.Close()

	arg2 := &doors.Arg{}
	if err := c2.Call(arg2); err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if got := binary.LittleEndian.Uint64(arg2.Result); got != 0 {
		t.Errorf("second call reported length = %d, want 0", got)
	}
}

// S3 -- params.
func TestParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "door-params")

	d, err := doors.Create(echoProc, &echoCookie{}, doors.RefuseDesc, doors.CreateConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer doors.Revoke(d)

	if v, err := doors.GetParam(d, doors.ParamDataMin); err != nil || v != 0 {
		t.Fatalf("GetParam(DataMin) = (%d, %v), want (0, nil)", v, err)
	}
	if v, err := doors.GetParam(d, doors.ParamDescMax); err != nil || v != 0 {
		t.Fatalf("GetParam(DescMax) = (%d, %v), want (0, nil)", v, err)
	}

	if err := doors.SetParam(d, doors.ParamDataMax, 4096); err != nil {
		t.Fatalf("SetParam(DataMax, 4096): %v", err)
	}
	if err := doors.SetParam(d, doors.ParamDataMin, 1024); err != nil {
		t.Fatalf("SetParam(DataMin, 1024): %v", err)
	}

	if v, err := doors.GetParam(d, doors.ParamDataMax); err != nil || v != 4096 {
		t.Errorf("GetParam(DataMax) after SetParam = (%d, %v), want (4096, nil)", v, err)
	}
	if v, err := doors.GetParam(d, doors.ParamDataMin); err != nil || v != 1024 {
		t.Errorf("GetParam(DataMin) after SetParam = (%d, %v), want (1024, nil)", v, err)
	}

	if err := doors.Attach(d, path); err != nil {
		t.Fatalf("Attach: %v", err)
	}
}

// S9 (boundary) -- setparam rejects an inverted data_min/data_max pair and
// leaves state unchanged.
func TestSetParamRejectsInvertedBounds(t *testing.T) {
	d, err := doors.Create(echoProc, &echoCookie{}, doors.RefuseDesc, doors.CreateConfig{DataMax: 2048})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer doors.Revoke(d)

	if err := doors.SetParam(d, doors.ParamDataMin, 4096); err == nil {
		t.Errorf("expected SetParam(DataMin, 4096) above data_max=2048 to fail")
	}
	if v, _ := doors.GetParam(d, doors.ParamDataMin); v != 0 {
		t.Errorf("data_min changed despite rejected SetParam: got %d", v)
	}

	if err := doors.SetParam(d, doors.ParamDataMax, 0); err != nil {
		t.Fatalf("SetParam(DataMax, 0) with data_min=0: %v", err)
	}
	if err := doors.SetParam(d, doors.ParamDataMin, 1); err == nil {
		t.Errorf("expected SetParam(DataMin, 1) above data_max=0 to fail")
	}
}

// S4 -- info round-trip.
func TestInfoRoundTrip(t *testing.T) {
	pid := uint64(os.Getpid())

	var ds []*doors.Descriptor
	for i := 0; i < 3; i++ {
		d, err := doors.Create(echoProc, &echoCookie{}, doors.Local, doors.CreateConfig{})
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		ds = append(ds, d)
	}
	defer func() {
		for _, d := range ds {
			doors.Revoke(d)
		}
	}()

	seen := map[uint64]bool{}
	for i, d := range ds {
		info, err := doors.Info(d)
		if err != nil {
			t.Fatalf("Info #%d: %v", i, err)
		}
		if info.TargetPID != pid {
			t.Errorf("Info #%d TargetPID = %d, want %d", i, info.TargetPID, pid)
		}
		if info.Attr&doors.Local == 0 {
			t.Errorf("Info #%d missing LOCAL bit", i)
		}
		if seen[info.ID] {
			t.Errorf("Info #%d reused id %d", i, info.ID)
		}
		seen[info.ID] = true
	}

	if err := doors.Revoke(ds[0]); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := doors.Info(ds[0]); err == nil {
		t.Errorf("expected Info on a revoked descriptor to fail")
	}

	// Idempotence of revoke (property 5).
	if err := doors.Revoke(ds[0]); err == nil {
		t.Errorf("expected second Revoke to fail with BadDescriptor")
	}
}

// S4 (client-side) -- a subsequent Open(p) returns a descriptor whose
// Info/GetParam, queried entirely over the wire, reports the same id,
// target pid, and params as the server's own Create/Attach (testable
// property 3).
func TestClientInfoAndGetParam(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "door-client-info")
	pid := uint64(os.Getpid())

	d, err := doors.Create(echoProc, &echoCookie{}, doors.RefuseDesc, doors.CreateConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer doors.Revoke(d)

	if err := doors.SetParam(d, doors.ParamDataMax, 4096); err != nil {
		t.Fatalf("SetParam(DataMax, 4096): %v", err)
	}
	if err := doors.SetParam(d, doors.ParamDataMin, 1024); err != nil {
		t.Fatalf("SetParam(DataMin, 1024): %v", err)
	}

	wantInfo, err := doors.Info(d)
	if err != nil {
		t.Fatalf("server-side Info: %v", err)
	}

	if err := doors.Attach(d, path); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	c, err := doors.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	gotInfo, err := c.Info()
	if err != nil {
		t.Fatalf("client Info: %v", err)
	}
	if gotInfo.ID != wantInfo.ID {
		t.Errorf("client Info ID = %d, want %d", gotInfo.ID, wantInfo.ID)
	}
	if gotInfo.TargetPID != pid {
		t.Errorf("client Info TargetPID = %d, want %d", gotInfo.TargetPID, pid)
	}
	if gotInfo.Attr&doors.RefuseDesc == 0 {
		t.Errorf("client Info missing REFUSE_DESC bit")
	}

	if v, err := c.GetParam(doors.ParamDataMax); err != nil || v != 4096 {
		t.Errorf("client GetParam(DataMax) = (%d, %v), want (4096, nil)", v, err)
	}
	if v, err := c.GetParam(doors.ParamDataMin); err != nil || v != 1024 {
		t.Errorf("client GetParam(DataMin) = (%d, %v), want (1024, nil)", v, err)
	}
	if v, err := c.GetParam(doors.ParamDescMax); err != nil || v != 0 {
		t.Errorf("client GetParam(DescMax) = (%d, %v), want (0, nil)", v, err)
	}
}
