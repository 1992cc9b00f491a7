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

// Package xdr implements the minimal RFC 4506 subset the layout wire types
// need: big-endian fixed-width integers, booleans and length-prefixed
// opaque data, quad-word aligned. Cursor is the encode side, Reader the
// decode side; both run out of room the same way a null cursor does in the
// source: a Reader returns ErrTooSmall, and a Cursor that would overrun its
// caller-supplied maximum silently stops writing and remembers it failed,
// so callers can check once at the end and map it straight to
// StatusTooSmall the way export_ioctl.c maps exp_xdr_reserve_qwords
// returning NULL to -ETOOSMALL.
//
// This trades the source's in-place pointer-cursor-over-a-preallocated-
// buffer approach for a plain []byte guarded by Go's own bounds checks;
// nothing here needs the unsafe tricks a kernel-resident mmap'd message
// buffer does, but the fixed upper bound itself is kept, since callers
// encode into a reply the client already bounded (loga_maxcount,
// gdia_maxcount).
package xdr

import (
	"encoding/binary"
	"errors"
)

// ErrTooSmall is returned by a Reader method when the underlying buffer
// does not hold enough bytes to decode the requested value.
var ErrTooSmall = errors.New("xdr: buffer too small")

func pad4(n int) int {
	return (4 - n%4) % 4
}

// Cursor encodes values into a byte buffer bounded by maxLen. Once a write
// would overrun that bound, Cursor stops writing and remembers the failure;
// every later write is then a silent no-op, mirroring a null cursor.
type Cursor struct {
	buf    []byte
	max    int
	failed bool
}

// NewCursor returns an empty Cursor that fails once its buffer would grow
// past maxLen bytes.
func NewCursor(maxLen int) *Cursor {
	capHint := maxLen
	if capHint > 4096 {
		capHint = 4096
	}
	return &Cursor{buf: make([]byte, 0, capHint), max: maxLen}
}

// Bytes returns the encoded buffer so far.
func (c *Cursor) Bytes() []byte {
	return c.buf
}

// Len returns the number of bytes written so far.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Failed reports whether some earlier write didn't fit within maxLen.
func (c *Cursor) Failed() bool {
	return c.failed
}

// reserve reports whether n more bytes fit within maxLen, marking c failed
// (sticky) the first time they don't.
func (c *Cursor) reserve(n int) bool {
	if c.failed || len(c.buf)+n > c.max {
		c.failed = true
		return false
	}
	return true
}

// PutUint32 appends a big-endian uint32, or does nothing if it wouldn't fit.
func (c *Cursor) PutUint32(v uint32) {
	if !c.reserve(4) {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	c.buf = append(c.buf, b[:]...)
}

// PutUint64 appends a big-endian uint64, or does nothing if it wouldn't fit.
func (c *Cursor) PutUint64(v uint64) {
	if !c.reserve(8) {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	c.buf = append(c.buf, b[:]...)
}

// PutBool appends a 1 (true) or 0 (false) as a 4-byte XDR bool.
func (c *Cursor) PutBool(v bool) {
	if v {
		c.PutUint32(1)
	} else {
		c.PutUint32(0)
	}
}

// PutOpaque appends a length-prefixed, zero-padded-to-4-bytes opaque blob,
// or does nothing if it wouldn't fit.
func (c *Cursor) PutOpaque(b []byte) {
	pad := pad4(len(b))
	if !c.reserve(4 + len(b) + pad) {
		return
	}
	c.PutUint32(uint32(len(b)))
	c.buf = append(c.buf, b...)
	if pad > 0 {
		var zeros [4]byte
		c.buf = append(c.buf, zeros[:pad]...)
	}
}

// ReserveLen appends a placeholder length word and returns its offset, for
// a later BackfillLen once everything the length covers has been written.
// This is the Go counterpart of exp_xdr_reserve_qwords(xdr, 1) followed by
// exp_xdr_encode_opaque_len(start, xdr->p). It returns -1, the same as
// BackfillLen's no-op sentinel, if c has already failed.
func (c *Cursor) ReserveLen() int {
	if c.failed {
		return -1
	}
	offset := len(c.buf)
	c.PutUint32(0)
	if c.failed {
		return -1
	}
	return offset
}

// BackfillLen writes the number of bytes encoded since offset (exclusive of
// the length word itself) into the placeholder ReserveLen left there. It is
// a no-op if offset is the -1 sentinel ReserveLen returns on failure, or if
// c has failed since.
func (c *Cursor) BackfillLen(offset int) {
	if c.failed || offset < 0 {
		return
	}
	length := uint32(len(c.buf) - offset - 4)
	binary.BigEndian.PutUint32(c.buf[offset:offset+4], length)
}

// Reader decodes values from a fixed byte buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf, starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes left in the buffer.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Uint32 decodes a big-endian uint32, or returns ErrTooSmall.
func (r *Reader) Uint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrTooSmall
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64 decodes a big-endian uint64, or returns ErrTooSmall.
func (r *Reader) Uint64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrTooSmall
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Bool decodes a 4-byte XDR bool.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint32()
	return v != 0, err
}

// Opaque decodes a length-prefixed, 4-byte-padded opaque blob. The returned
// slice aliases the Reader's backing array.
func (r *Reader) Opaque() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}

	total := int(n) + pad4(int(n))
	if r.Remaining() < total {
		return nil, ErrTooSmall
	}

	data := r.buf[r.pos : r.pos+int(n) : r.pos+int(n)]
	r.pos += total
	return data, nil
}
