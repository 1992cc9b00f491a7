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

// Package striping computes the object-layout striping geometry: how a
// file's byte ranges map onto stripe/group boundaries, and how many device
// components a layout needs. It is a direct port of _align_io and the
// odm_* device-map fields from export_ioctl.c.
package striping

import "github.com/objectfs/pnfslayout/layoutops"

// Layout describes one export's striping geometry. MirrorsPlus1 is the
// "mirrors + 1" convention the source uses throughout (a value of 1 means
// no mirroring).
type Layout struct {
	StripeUnit   uint64
	GroupWidth   uint32
	GroupDepth   uint32
	MirrorsPlus1 uint32
	Parity       uint32
}

// StripeSize is the size of one stripe across the non-parity components.
func (l Layout) StripeSize() uint64 {
	return uint64(l.GroupWidth-l.Parity) * l.StripeUnit
}

// GroupSize is the size of one full stripe group.
func (l Layout) GroupSize() uint64 {
	return l.StripeSize() * uint64(l.GroupDepth)
}

// Align rounds req down to a stripe or group boundary and expands it to a
// fixed size, the Go counterpart of _align_io. A write against a layout with
// parity or mirroring is rounded to a single stripe and expanded to
// sharedStripeCount stripes (so concurrent writers sharing the object don't
// need to keep re-requesting adjacent layouts); anything else (reads, or
// writes with no redundancy to protect) is rounded to a full stripe group.
// The returned needRecall reports whether granting this aligned segment
// requires recalling conflicting ReadWrite layouts first, because a RAID
// write segment can span bytes the caller didn't ask for.
func Align(l Layout, req layoutops.Segment, sharedStripeCount uint64) (aligned layoutops.Segment, needRecall bool) {
	if req.IoMode != layoutops.IoModeRead && (l.Parity > 0 || l.MirrorsPlus1 > 1) {
		stripeSize := l.StripeSize()
		offset := (req.Range.Offset / stripeSize) * stripeSize
		return layoutops.Segment{
			Range:  layoutops.Range{Offset: offset, Length: stripeSize * sharedStripeCount},
			IoMode: req.IoMode,
		}, true
	}

	groupSize := l.GroupSize()
	offset := (req.Range.Offset / groupSize) * groupSize
	return layoutops.Segment{
		Range:  layoutops.Range{Offset: offset, Length: groupSize},
		IoMode: req.IoMode,
	}, false
}

// DeviceMap is the component-count and group geometry that gets encoded
// into a layout's object device map (pnfs_osd_data_map), the Go counterpart
// of the odm_* field population in export_ioctl.c.
type DeviceMap struct {
	StripeUnit    uint64
	MirrorCount   uint32
	NumComponents uint32
	GroupWidth    uint32
	GroupDepth    uint32
}

// DeviceMap computes the component layout for groupCount stripe groups. A
// groupCount of 1 is the common case and reports GroupWidth/GroupDepth as
// zero, matching the source's note that pNFS only has a 32-bit group_depth
// field and so the group fields are left unset rather than truncated when
// there's only one group.
func (l Layout) DeviceMap(groupCount uint32) DeviceMap {
	dm := DeviceMap{
		StripeUnit:  l.StripeUnit,
		MirrorCount: l.MirrorsPlus1 - 1,
	}

	if groupCount > 1 {
		dm.NumComponents = l.GroupWidth * l.MirrorsPlus1 * groupCount
		dm.GroupWidth = l.GroupWidth
		dm.GroupDepth = l.GroupDepth
	} else {
		dm.NumComponents = l.GroupWidth * l.MirrorsPlus1
	}

	return dm
}
