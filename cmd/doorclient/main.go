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

// A simple tool for calling a door attached by doorecho.
package main

import (
	"encoding/binary"
	"flag"
	"log"

	"github.com/jlango/doors"
)

var fPath = flag.String("path", "", "Filesystem path the door is attached at.")
var fPayload = flag.String("payload", "", "Bytes to send as the call payload.")

func main() {
	flag.Parse()

	if *fPath == "" {
		log.Fatalf("You must set --path.")
	}

	c, err := doors.Open(*fPath)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer c.Close()

	arg := &doors.Arg{Data: []byte(*fPayload)}
	if err := c.Call(arg); err != nil {
		log.Fatalf("Call: %v", err)
	}

	if len(arg.Result) == 8 {
		log.Printf("reply: %d", binary.LittleEndian.Uint64(arg.Result))
		return
	}
	log.Printf("reply: %q", arg.Result)
}
