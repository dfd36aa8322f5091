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

import "testing"

func noopProc(cookie any, data []byte, isUnref bool) {}

func TestSetParamRejectsDataMaxBelowDataMin(t *testing.T) {
	s := newState(1, noopProc, nil, 0, 1, 4096)
	if err := s.setParam(ParamDataMin, 1024); err != nil {
		t.Fatalf("setParam(DataMin, 1024): %v", err)
	}
	if err := s.setParam(ParamDataMax, 100); err == nil {
		t.Fatalf("expected setParam(DataMax, 100) below data_min=1024 to fail")
	}
	if _, max := s.dataBounds(); max != 4096 {
		t.Errorf("data_max changed despite a rejected setParam: got %d", max)
	}
}

func TestSetParamRejectsDataMinAboveDataMax(t *testing.T) {
	s := newState(1, noopProc, nil, 0, 1, 2048)
	if err := s.setParam(ParamDataMin, 4096); err == nil {
		t.Fatalf("expected setParam(DataMin, 4096) above data_max=2048 to fail")
	}
	if min, _ := s.dataBounds(); min != 0 {
		t.Errorf("data_min changed despite a rejected setParam: got %d", min)
	}
}

func TestAcquireClearsIsUnref(t *testing.T) {
	s := newState(1, noopProc, nil, IsUnref, 1, 4096)
	s.acquire()
	if s.attr&IsUnref != 0 {
		t.Errorf("IsUnref was not cleared by acquire")
	}
}

func TestReleaseDestroysAtZero(t *testing.T) {
	s := newState(1, noopProc, nil, 0, 1, 4096)
	s.acquire()
	s.release()
	if s.refcount != 0 {
		t.Errorf("refcount after balanced acquire/release = %d, want 0", s.refcount)
	}
}
