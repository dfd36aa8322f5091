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

// Package wire defines the fixed-layout little-endian frames exchanged
// between door clients and servers, and the codes that select among them.
//
// Every frame begins with a 32-bit Code. The receiver is expected to peek
// that code (and, for the variable-length frames, the fixed-size header that
// follows it) before deciding how many more bytes to read; see the
// transport package for the peek-then-read primitive that frames this
// exchange atomically.
package wire

import "encoding/binary"

// Code identifies the kind of a frame. It is always the first four bytes on
// the wire, little-endian.
type Code uint32

const (
	CodeError          Code = 0
	CodeRequest        Code = 1
	CodeDoorInfo       Code = 2
	CodeGetParamReply  Code = 3
	CodeDoorCall       Code = 4
	CodeDoorReturn     Code = 5
)

func (c Code) String() string {
	switch c {
	case CodeError:
		return "error"
	case CodeRequest:
		return "request"
	case CodeDoorInfo:
		return "door_info"
	case CodeGetParamReply:
		return "getparam_reply"
	case CodeDoorCall:
		return "door_call"
	case CodeDoorReturn:
		return "door_return"
	default:
		return "unknown"
	}
}

// Request identifies the sub-request carried by a RequestFrame.
type Request uint32

const (
	ReqInfo     Request = 0
	ReqDataMax  Request = 1
	ReqDataMin  Request = 2
	ReqDescMax  Request = 3
)

// Byte sizes of the fixed-layout portion of each frame. For CallFrame and
// ReturnFrame this is the size of the header that precedes the payload.
const (
	ErrorFrameSize         = 4 + 4
	RequestFrameSize       = 4 + 4
	InfoFrameSize          = 4 + 4 + 8 + 8 + 8 + 8
	GetParamReplyFrameSize = 4 + 4 + 8
	CallHeaderSize         = 4 + 4 + 8
	ReturnHeaderSize       = 4 + 4 + 8
)

// PeekCode decodes the leading 32-bit code from a buffer obtained via a
// peek (non-consuming) read. The buffer must be at least 4 bytes.
func PeekCode(b []byte) Code {
	return Code(binary.LittleEndian.Uint32(b))
}

// ErrorFrame is sent in place of a reply when the sender wants to convey an
// errno-like failure instead of data.
type ErrorFrame struct {
	Value int32
}

func (f ErrorFrame) Marshal() []byte {
	b := make([]byte, ErrorFrameSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(CodeError))
	binary.LittleEndian.PutUint32(b[4:8], uint32(f.Value))
	return b
}

func DecodeErrorFrame(b []byte) (f ErrorFrame, ok bool) {
	if len(b) < ErrorFrameSize || PeekCode(b) != CodeError {
		return
	}
	f.Value = int32(binary.LittleEndian.Uint32(b[4:8]))
	ok = true
	return
}

// RequestFrame asks the server for one of the sub-requests in this file.
type RequestFrame struct {
	Sub Request
}

func (f RequestFrame) Marshal() []byte {
	b := make([]byte, RequestFrameSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(CodeRequest))
	binary.LittleEndian.PutUint32(b[4:8], uint32(f.Sub))
	return b
}

func DecodeRequestFrame(b []byte) (f RequestFrame, ok bool) {
	if len(b) < RequestFrameSize || PeekCode(b) != CodeRequest {
		return
	}
	f.Sub = Request(binary.LittleEndian.Uint32(b[4:8]))
	ok = true
	return
}

// InfoFrame answers a ReqInfo request with the full door_info tuple.
type InfoFrame struct {
	Attr       uint32
	TargetPID  uint64
	ProcPtr    uint64
	Cookie     uint64
	ID         uint64
}

func (f InfoFrame) Marshal() []byte {
	b := make([]byte, InfoFrameSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(CodeDoorInfo))
	binary.LittleEndian.PutUint32(b[4:8], f.Attr)
	binary.LittleEndian.PutUint64(b[8:16], f.TargetPID)
	binary.LittleEndian.PutUint64(b[16:24], f.ProcPtr)
	binary.LittleEndian.PutUint64(b[24:32], f.Cookie)
	binary.LittleEndian.PutUint64(b[32:40], f.ID)
	return b
}

func DecodeInfoFrame(b []byte) (f InfoFrame, ok bool) {
	if len(b) < InfoFrameSize || PeekCode(b) != CodeDoorInfo {
		return
	}
	f.Attr = binary.LittleEndian.Uint32(b[4:8])
	f.TargetPID = binary.LittleEndian.Uint64(b[8:16])
	f.ProcPtr = binary.LittleEndian.Uint64(b[16:24])
	f.Cookie = binary.LittleEndian.Uint64(b[24:32])
	f.ID = binary.LittleEndian.Uint64(b[32:40])
	ok = true
	return
}

// GetParamReplyFrame answers a ReqDataMax/ReqDataMin/ReqDescMax request.
type GetParamReplyFrame struct {
	Param uint32
	Value uint64
}

func (f GetParamReplyFrame) Marshal() []byte {
	b := make([]byte, GetParamReplyFrameSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(CodeGetParamReply))
	binary.LittleEndian.PutUint32(b[4:8], f.Param)
	binary.LittleEndian.PutUint64(b[8:16], f.Value)
	return b
}

func DecodeGetParamReplyFrame(b []byte) (f GetParamReplyFrame, ok bool) {
	if len(b) < GetParamReplyFrameSize || PeekCode(b) != CodeGetParamReply {
		return
	}
	f.Param = binary.LittleEndian.Uint32(b[4:8])
	f.Value = binary.LittleEndian.Uint64(b[8:16])
	ok = true
	return
}

// CallHeader is the fixed-size prefix of a door_call frame; the payload of
// ArgSize bytes immediately follows it in the same message.
type CallHeader struct {
	NDesc   uint32
	ArgSize uint64
}

func (h CallHeader) Marshal() []byte {
	b := make([]byte, CallHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(CodeDoorCall))
	binary.LittleEndian.PutUint32(b[4:8], h.NDesc)
	binary.LittleEndian.PutUint64(b[8:16], h.ArgSize)
	return b
}

// MarshalCall builds a complete door_call frame (header plus payload) as a
// single contiguous buffer, so it can be written to the transport in one
// atomic send.
func MarshalCall(payload []byte) []byte {
	h := CallHeader{NDesc: 0, ArgSize: uint64(len(payload))}
	b := h.Marshal()
	return append(b, payload...)
}

func DecodeCallHeader(b []byte) (h CallHeader, ok bool) {
	if len(b) < CallHeaderSize || PeekCode(b) != CodeDoorCall {
		return
	}
	h.NDesc = binary.LittleEndian.Uint32(b[4:8])
	h.ArgSize = binary.LittleEndian.Uint64(b[8:16])
	ok = true
	return
}

// ReturnHeader is the fixed-size prefix of a door_return frame; the payload
// of DataSize bytes immediately follows it in the same message.
type ReturnHeader struct {
	NDesc    uint32
	DataSize uint64
}

func (h ReturnHeader) Marshal() []byte {
	b := make([]byte, ReturnHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(CodeDoorReturn))
	binary.LittleEndian.PutUint32(b[4:8], h.NDesc)
	binary.LittleEndian.PutUint64(b[8:16], h.DataSize)
	return b
}

// MarshalReturn builds a complete door_return frame (header plus payload).
func MarshalReturn(payload []byte) []byte {
	h := ReturnHeader{NDesc: 0, DataSize: uint64(len(payload))}
	b := h.Marshal()
	return append(b, payload...)
}

func DecodeReturnHeader(b []byte) (h ReturnHeader, ok bool) {
	if len(b) < ReturnHeaderSize || PeekCode(b) != CodeDoorReturn {
		return
	}
	h.NDesc = binary.LittleEndian.Uint32(b[4:8])
	h.DataSize = binary.LittleEndian.Uint64(b[8:16])
	ok = true
	return
}
