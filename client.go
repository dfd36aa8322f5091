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
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jacobsa/reqtrace"

	"github.com/jlango/doors/internal/transport"
	"github.com/jlango/doors/wire"
)

// Arg describes one call's send and result buffers, the client-side
// equivalent of door_arg_t stripped of descriptor-passing fields (a
// Non-goal here).
type Arg struct {
	// Data is the payload sent to the server procedure.
	Data []byte

	// RBuf, if non-nil and large enough, is reused to hold the reply.
	// Otherwise Call allocates a fresh buffer. Either way the reply ends up
	// in Result.
	RBuf []byte

	// Result is populated by Call with the server procedure's reply.
	Result []byte
}

// ClientHandle is a connected door endpoint. It is not safe for concurrent
// Call/Info/GetParam invocations from multiple goroutines: like the
// original client, it assumes replies arrive FIFO with respect to the
// requests on the same connection, so every method serializes itself with
// an internal mutex rather than attempting to multiplex.
type ClientHandle struct {
	mu   sync.Mutex
	conn *os.File
}

// Open connects to the door bound at path and returns a handle for it.
func Open(path string) (*ClientHandle, error) {
	conn, err := transport.Connect(path)
	if err != nil {
		return nil, newErr("open", BadDescriptor, err)
	}
	return &ClientHandle{conn: conn}, nil
}

// Close closes the connection's descriptor. It does not take the handle's
// mutex and does not interrupt a Call already blocked waiting for its reply.
func (c *ClientHandle) Close() error {
	return c.conn.Close()
}

// Info reports everything the connected door will say about itself without
// being called: the client-side counterpart of door.c's door_info, sent
// over the wire as a ReqInfo request and decoded from the door_info reply.
func (c *ClientHandle) Info() (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.request(wire.ReqInfo)
	if err != nil {
		return Info{}, err
	}

	info, ok := wire.DecodeInfoFrame(reply)
	if !ok {
		return Info{}, newErr("info", BadMessage, fmt.Errorf("malformed door_info reply"))
	}
	return Info{
		TargetPID: info.TargetPID,
		ProcPtr:   info.ProcPtr,
		Cookie:    info.Cookie,
		Attr:      Attr(info.Attr),
		ID:        info.ID,
	}, nil
}

// GetParam reads one of DataMin/DataMax/DescMax from the connected door over
// the wire, the client-side counterpart of door.c:1608 door_getparam.
func (c *ClientHandle) GetParam(which Param) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.request(requestForParam(which))
	if err != nil {
		return 0, err
	}

	gp, ok := wire.DecodeGetParamReplyFrame(reply)
	if !ok {
		return 0, newErr("getparam", BadMessage, fmt.Errorf("malformed getparam_reply"))
	}
	return gp.Value, nil
}

func requestForParam(which Param) wire.Request {
	switch which {
	case ParamDataMax:
		return wire.ReqDataMax
	case ParamDataMin:
		return wire.ReqDataMin
	default:
		return wire.ReqDescMax
	}
}

// request sends a RequestFrame naming sub and peeks-then-reads whatever
// reply comes back, leaving it to the caller to decode the frame for the
// sub-request it asked for. Callers must hold c.mu.
func (c *ClientHandle) request(sub wire.Request) ([]byte, error) {
	frame := wire.RequestFrame{Sub: sub}.Marshal()
	if err := transport.WriteMessage(c.conn, frame); err != nil {
		return nil, newErr("request", IoFailure, err)
	}

	codeBuf, err := transport.PeekHeader(c.conn, 4)
	if err != nil || len(codeBuf) < 4 {
		return nil, newErr("request", IoFailure, err)
	}

	switch wire.PeekCode(codeBuf) {
	case wire.CodeError:
		buf, err := transport.ReadMessage(c.conn, wire.ErrorFrameSize)
		if err != nil {
			return nil, newErr("request", IoFailure, err)
		}
		ef, ok := wire.DecodeErrorFrame(buf)
		if !ok {
			return nil, newErr("request", BadMessage, fmt.Errorf("malformed error frame"))
		}
		return nil, newErr("request", Kind(ef.Value), fmt.Errorf("server replied with an error"))

	case wire.CodeDoorInfo:
		buf, err := transport.ReadMessage(c.conn, wire.InfoFrameSize)
		if err != nil || len(buf) != wire.InfoFrameSize {
			return nil, newErr("request", BadMessage, fmt.Errorf("short read on door_info"))
		}
		return buf, nil

	case wire.CodeGetParamReply:
		buf, err := transport.ReadMessage(c.conn, wire.GetParamReplyFrameSize)
		if err != nil || len(buf) != wire.GetParamReplyFrameSize {
			return nil, newErr("request", BadMessage, fmt.Errorf("short read on getparam_reply"))
		}
		return buf, nil

	default:
		c.conn.Close()
		return nil, newErr("request", BadMessage, fmt.Errorf("unexpected reply code"))
	}
}

// Call sends arg.Data as a door_call frame and blocks for the reply,
// populating arg.Result on success. The server closes the connection once
// it has replied to a door_call, so a ClientHandle carries one Call; a
// later Call, Info or GetParam on the same handle fails with a transport
// error, and a new call needs a new Open.
func (c *ClientHandle) Call(arg *Arg) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, report := reqtrace.StartSpan(context.Background(), "door client call")
	defer func() { report(err) }()

	frame := wire.MarshalCall(arg.Data)
	if err = transport.WriteMessage(c.conn, frame); err != nil {
		return newErr("call", IoFailure, err)
	}

	codeBuf, peekErr := transport.PeekHeader(c.conn, 4)
	if peekErr != nil || len(codeBuf) < 4 {
		err = newErr("call", IoFailure, peekErr)
		return err
	}

	switch wire.PeekCode(codeBuf) {
	case wire.CodeError:
		err = c.readErrorReply()
	case wire.CodeDoorReturn:
		err = c.readReturnReply(arg)
	default:
		c.conn.Close()
		err = newErr("call", BadMessage, fmt.Errorf("unexpected reply code"))
	}
	return err
}

func (c *ClientHandle) readErrorReply() error {
	buf, err := transport.ReadMessage(c.conn, wire.ErrorFrameSize)
	if err != nil {
		return newErr("call", IoFailure, err)
	}
	ef, ok := wire.DecodeErrorFrame(buf)
	if !ok {
		return newErr("call", BadMessage, fmt.Errorf("malformed error frame"))
	}
	return newErr("call", Kind(ef.Value), fmt.Errorf("server replied with an error"))
}

func (c *ClientHandle) readReturnReply(arg *Arg) error {
	hdrBuf, err := transport.PeekHeader(c.conn, wire.ReturnHeaderSize)
	if err != nil {
		return newErr("call", IoFailure, err)
	}
	hdr, ok := wire.DecodeReturnHeader(hdrBuf)
	if !ok {
		return newErr("call", BadMessage, fmt.Errorf("malformed return header"))
	}

	total := wire.ReturnHeaderSize + int(hdr.DataSize)
	full, err := transport.ReadMessage(c.conn, total)
	if err != nil || len(full) != total {
		return newErr("call", BadMessage, fmt.Errorf("short read on door_return"))
	}

	payload := full[wire.ReturnHeaderSize:]

	var result []byte
	if arg.RBuf != nil && len(arg.RBuf) >= len(payload) {
		result = arg.RBuf[:len(payload)]
		copy(result, payload)
	} else {
		result = append([]byte(nil), payload...)
	}
	arg.Result = result
	return nil
}
