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

// CapabilityToken is the opaque credential a CapabilityIssuer hands back for
// a layout segment. The core never dereferences it, only compares it for
// equality (LayoutRecall's caps filter) and hands it back on release; any
// comparable type works.
type CapabilityToken any

// RecallFileInfo is the opaque per-file token the consumer supplies at
// LayoutGet time and gets echoed back on every recall event for that file.
type RecallFileInfo any

// Waiter is an opaque handle a caller may attach to a synchronous
// LayoutRecall. The core stores it on the resulting recall and never
// interprets it; it is not copied into RecallEvent, and nothing signals it
// when the recall resolves.
type Waiter any

// LayoutGetArgs is the input to Server.LayoutGet.
type LayoutGetArgs struct {
	ClientID  uint64
	ExportID  uint64
	Requested Range
	Mode      IoMode

	// RecallFileInfo is recorded on the file node, overwriting (and logging a
	// change from) whatever was recorded by the previous LayoutGet.
	RecallFileInfo RecallFileInfo

	// MaxBodyLen bounds the XDR-encoded layout body, the client's
	// loga_maxcount. Zero means unbounded.
	MaxBodyLen uint32
}

// LayoutGetResult is the output of a successful Server.LayoutGet.
type LayoutGetResult struct {
	// Body is the XDR-encoded layout (header plus one credential per
	// component) ready to be placed on the wire.
	Body []byte

	// Granted is the segment actually granted, after stripe alignment.
	Granted Segment

	// ReturnOnClose is always true for this core: every layout it hands out
	// must be returned when its file handle closes.
	ReturnOnClose bool
}

// LayoutReturnArgs is the input to Server.LayoutReturn.
type LayoutReturnArgs struct {
	// XDRBody carries zero or more encoded I/O error records, drained via
	// IOErrorSink before anything else happens.
	XDRBody []byte

	// RecallCookie is the cookie a prior RecallEvent carried, or nil for a
	// layout return that isn't satisfying a recall.
	RecallCookie any
}

// LayoutCommitArgs is the input to Server.LayoutCommit.
type LayoutCommitArgs struct {
	NewOffsetValid bool
	LastWrite      uint64

	TimeChanged bool
	NewTimeSec  int64
	NewTimeNsec int64

	DSUValid bool
	DSUDelta uint64
}

// LayoutCommitResult is the output of Server.LayoutCommit.
type LayoutCommitResult struct {
	SizeSupplied bool
	NewSize      uint64
}

// GetDeviceInfoArgs is the input to Server.GetDeviceInfo.
type GetDeviceInfoArgs struct {
	ExportID   uint64
	DeviceID   DeviceID
	LayoutType uint32

	// MaxBodyLen bounds the encoded device address, the client's
	// gdia_maxcount. Zero means unbounded.
	MaxBodyLen uint32
}

// GetDeviceInfoResult is the output of a successful Server.GetDeviceInfo.
type GetDeviceInfoResult struct {
	// Body is the XDR-encoded deviceaddr4, with its leading opaque length
	// word already backfilled.
	Body []byte
}

// DeviceInfo is what a DeviceTable hands back for one device.
type DeviceInfo struct {
	SystemID       []byte
	OSDName        string
	NetworkAddress string
	Available      bool
}

// IOError is one decoded I/O error record drained from a LayoutReturn body.
type IOError struct {
	Errno    int32
	IsWrite  bool
	ObjectID uint64
	Offset   uint64
	Length   uint64
}

// RecallEvent is one entry delivered by Server.ReceiveRecalls. Cookie must
// be echoed back in the RecallCookie field of the LayoutReturnArgs that
// satisfies it.
type RecallEvent struct {
	Segment        Segment
	ClientID       uint64
	RecallFileInfo RecallFileInfo
	Cookie         any
}
