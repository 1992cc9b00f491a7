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

package layoutops

import "math"

// Infinity is the sentinel length meaning "to end of file". It is exposed so
// that callers constructing a Range by hand (as opposed to through Align or
// Merge) don't need to reach for math.MaxUint64 themselves.
const Infinity = math.MaxUint64

// Range is a half-open byte range [Offset, Offset+Length). A Length of
// Infinity means "to end of file"; LastOffset saturates instead of
// overflowing in that case, mirroring the source's _last_offset/
// _seg_last_offset helpers in pnfs_layout_logic.c.
type Range struct {
	Offset uint64
	Length uint64
}

// LastOffset returns the first byte past the end of r, saturating at
// Infinity rather than wrapping if r is already unbounded.
func (r Range) LastOffset() uint64 {
	if r.Length == Infinity {
		return Infinity
	}
	return r.Offset + r.Length
}

// Unbounded reports whether r extends to infinity.
func (r Range) Unbounded() bool {
	return r.Length == Infinity
}

// Overlap reports whether a and b share at least one byte.
func Overlap(a, b Range) bool {
	return a.Offset < b.LastOffset() && b.Offset < a.LastOffset()
}

// Merge returns the smallest Range containing both a and b, preserving the
// Infinity sentinel if either endpoint was unbounded. It is the Go
// counterpart of _recall_merge_seg's range half in pnfs_layout_logic.c,
// split out so it can be unit tested without the clientid/io_mode bookkeeping
// that lives alongside it in the recall package.
func Merge(a, b Range) Range {
	offset := a.Offset
	if b.Offset < offset {
		offset = b.Offset
	}

	aLast, bLast := a.LastOffset(), b.LastOffset()
	last := aLast
	if bLast > last {
		last = bLast
	}

	length := last - offset
	if last == Infinity {
		length = Infinity
	}

	return Range{Offset: offset, Length: length}
}

// IoMode is the layout I/O mode. Any is a query-only wildcard: a live Layout
// never carries it, but it is a legal argument to the conflict detector and
// to CancelRecalls' debug hook.
type IoMode uint32

const (
	IoModeRead IoMode = 1 << iota
	IoModeReadWrite
	IoModeAny = IoModeRead | IoModeReadWrite
)

func (m IoMode) String() string {
	switch m {
	case IoModeRead:
		return "Read"
	case IoModeReadWrite:
		return "ReadWrite"
	case IoModeAny:
		return "Any"
	default:
		return "IoMode(0)"
	}
}

// DeviceID identifies a striping component's backing device within an
// export.
type DeviceID struct {
	SuperBlockID uint64
	DeviceIndex  uint64
}

// Segment is a Range paired with the I/O mode it was leased (or requested)
// under.
type Segment struct {
	Range  Range
	IoMode IoMode
}
