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

// A simple tool for attaching the echofs sample door.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jlango/doors"
	"github.com/jlango/doors/samples/echofs"
)

var fPath = flag.String("path", "", "Filesystem path to attach the door at.")

func main() {
	flag.Parse()

	if *fPath == "" {
		log.Fatalf("You must set --path.")
	}

	cookie := &echofs.Cookie{Out: os.Stdout}

	d, err := doors.Create(echofs.Proc, cookie, doors.RefuseDesc, doors.CreateConfig{})
	if err != nil {
		log.Fatalf("Create: %v", err)
	}

	if err := doors.Attach(d, *fPath); err != nil {
		log.Fatalf("Attach: %v", err)
	}

	log.Printf("echo door attached at %s", *fPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := doors.Revoke(d); err != nil {
		log.Fatalf("Revoke: %v", err)
	}
	if err := doors.Detach(*fPath); err != nil {
		log.Fatalf("Detach: %v", err)
	}
}
