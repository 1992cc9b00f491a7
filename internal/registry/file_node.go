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

// Package registry holds the per-file layout registry: the set of layouts a
// data server has handed out for one file, and the bookkeeping
// (recall_file_info, in_roc_state) that rides along with it. It corresponds
// to pkc_pnfs_inode/pkc_pnfs_file and the add2file/return/close operations in
// pnfs_layout_logic.c, collapsed into a single per-file structure since this
// core does not distinguish "file pointer" from "inode" the way the kernel
// client does.
package registry

import (
	"fmt"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/objectfs/pnfslayout/internal/arena"
	"github.com/objectfs/pnfslayout/layoutops"
)

// FileHandle identifies the file a FileNode tracks layouts for.
type FileHandle struct {
	SuperBlockID uint64
	InodeID      uint64
}

func (fh FileHandle) String() string {
	return fmt.Sprintf("%#x:%#x", fh.SuperBlockID, fh.InodeID)
}

// LayoutHandle addresses one Layout inside the FileNode that owns it. It is
// only meaningful together with the FileNode it was obtained from. Mixing
// handles across FileNodes is not detected: each FileNode numbers its own
// arena's slots and generations, so a handle from one can name a live layout
// in another.
type LayoutHandle = arena.Handle[Layout]

// Layout is one outstanding lease: a byte range, the I/O mode it was granted
// under, the client that holds it and the capability token the issuer handed
// back for it. It is the Go counterpart of pkc_layout, minus the two
// lo_list_head links: which list a Layout is logically on (a file's registry
// or a recall's set) is expressed by which arena.Arena[Layout] holds it, not
// by pointers threaded through the struct itself.
type Layout struct {
	Segment layoutops.Segment
	Client  uint64
	Caps    layoutops.CapabilityToken
}

// FileNode is the layout registry for one file: every layout currently
// granted against it, plus the recall_file_info token the consumer most
// recently supplied and whether the file is mid-return-on-close.
type FileNode struct {
	mu syncutil.InvariantMutex

	handle FileHandle

	// layouts holds every Layout currently granted against this file.
	// GUARDED_BY(mu)
	layouts arena.Arena[Layout]

	// recallFileInfo is the opaque token the consumer supplied with the most
	// recent LayoutGet against this file, echoed back on every recall event.
	// GUARDED_BY(mu)
	recallFileInfo layoutops.RecallFileInfo

	// inROCState mirrors in_roc_state in pnfs_layout_logic.c: set whenever a
	// layout is returned while the file still has live layouts or pending
	// recalls, cleared once both drain to empty. Exposed for diagnostics
	// only; the core's correctness does not depend on it.
	// GUARDED_BY(mu)
	inROCState bool

	// size, mtime and devSize are the LayoutCommit-visible inode state:
	// the file's size and modify time as last reported by a committing
	// client, and the accumulated device-size delta from every committed
	// layoutupdate (oi->i_dev_size in export_ioctl.c).
	// GUARDED_BY(mu)
	size uint64
	// GUARDED_BY(mu)
	mtime time.Time
	// GUARDED_BY(mu)
	devSize uint64
}

// NewFileNode returns a FileNode with no layouts, tracking handle.
func NewFileNode(handle FileHandle) *FileNode {
	fn := &FileNode{handle: handle}
	fn.mu = syncutil.NewInvariantMutex(fn.checkInvariants)
	return fn
}

func (fn *FileNode) checkInvariants() {
	// INVARIANT: inROCState is only ever true while len(layouts) == 0 is not
	// required here; it can be true with layouts still present (a return
	// that didn't drain the last one). Nothing to assert beyond what Arena
	// itself already guarantees about its own slots.
}

// Handle returns the file this registry tracks.
func (fn *FileNode) Handle() FileHandle {
	return fn.handle
}

// Lock and Unlock expose the node's mutex directly so that callers needing
// to hold it alongside a second lock (the recall root, per lock ordering
// invariant I6: file-node before root, never reversed) can do so without a
// lock/unlock pair of convenience methods getting in the way.
func (fn *FileNode) Lock()   { fn.mu.Lock() }
func (fn *FileNode) Unlock() { fn.mu.Unlock() }

// AddLocked records a newly granted layout and returns a handle to it. The
// caller must hold fn locked. recallInfo overwrites whatever recall file
// info was previously recorded; logf (may be nil) is called if this changes
// an already-set, different value, mirroring the PNFS_DBG warning in
// pnfs_lo_add2file.
func (fn *FileNode) AddLocked(seg layoutops.Segment, client uint64, caps layoutops.CapabilityToken, recallInfo layoutops.RecallFileInfo, logf func(format string, args ...any)) LayoutHandle {
	if fn.recallFileInfo != nil && recallInfo != nil && fn.recallFileInfo != recallInfo && logf != nil {
		logf("file %s: recall_file_info changed from %v to %v, taking the new one", fn.handle, fn.recallFileInfo, recallInfo)
	}
	if recallInfo != nil {
		fn.recallFileInfo = recallInfo
	}

	return fn.layouts.Insert(Layout{Segment: seg, Client: client, Caps: caps})
}

// GetLocked returns the layout h refers to. The caller must hold fn locked.
func (fn *FileNode) GetLocked(h LayoutHandle) (Layout, bool) {
	return fn.layouts.Get(h)
}

// DetachLocked removes the layout h refers to from fn's registry, the Go
// counterpart of _lo_detach's per_file unlink (the layouts unlink, the other
// half of _lo_detach, is the recall package's concern since that's the list
// a Layout moves to). The caller must hold fn locked.
func (fn *FileNode) DetachLocked(h LayoutHandle) (Layout, bool) {
	return fn.layouts.Remove(h)
}

// EachLocked calls visit once per layout currently registered against fn,
// in arbitrary order. The caller must hold fn locked; visit must not call
// back into fn.
func (fn *FileNode) EachLocked(visit func(LayoutHandle, Layout)) {
	fn.layouts.Each(visit)
}

// LenLocked returns the number of layouts currently registered against fn.
// The caller must hold fn locked.
func (fn *FileNode) LenLocked() int {
	return fn.layouts.Len()
}

// RecallFileInfoLocked returns the most recently recorded recall file info
// token. The caller must hold fn locked.
func (fn *FileNode) RecallFileInfoLocked() layoutops.RecallFileInfo {
	return fn.recallFileInfo
}

// InROCStateLocked reports whether fn is mid return-on-close. The caller
// must hold fn locked.
func (fn *FileNode) InROCStateLocked() bool {
	return fn.inROCState
}

// SetInROCStateLocked updates the return-on-close flag. The caller must
// hold fn locked.
func (fn *FileNode) SetInROCStateLocked(v bool) {
	fn.inROCState = v
}

// SizeLocked returns the file's last-committed size. The caller must hold
// fn locked.
func (fn *FileNode) SizeLocked() uint64 {
	return fn.size
}

// MTimeLocked returns the file's last-committed modification time. The
// caller must hold fn locked.
func (fn *FileNode) MTimeLocked() time.Time {
	return fn.mtime
}

// DevSizeLocked returns the accumulated device-size delta recorded by every
// committed layout update so far. The caller must hold fn locked.
func (fn *FileNode) DevSizeLocked() uint64 {
	return fn.devSize
}

// CommitLocked applies a LayoutCommit's effects: mtime is only ever moved
// forward (never backward, since commit notifications can arrive out of
// order relative to a local mtime change), size only grows to cover
// lastWrite when growing it, and devSize accumulates dsuDelta. It reports
// the new size and whether it grew past what was previously recorded. The
// caller must hold fn locked.
func (fn *FileNode) CommitLocked(newMTime time.Time, mtimeValid bool, lastWrite uint64, newOffsetValid bool, dsuDelta uint64, dsuValid bool) (newSize uint64, sizeGrew bool) {
	if mtimeValid && newMTime.After(fn.mtime) {
		fn.mtime = newMTime
	} else if !mtimeValid {
		fn.mtime = newMTime
	}

	if newOffsetValid {
		candidate := lastWrite + 1
		if candidate > fn.size {
			fn.size = candidate
			sizeGrew = true
		}
	}

	if dsuValid {
		fn.devSize += dsuDelta
	}

	return fn.size, sizeGrew
}

// DetachAllLocked removes every layout currently registered against fn and
// returns them, the per-file half of pnfs_file_close: callers pair this
// with the recall root's bookkeeping (recall.Root.ReleaseFile, which drops
// every recall still holding one of this file's layouts) while holding both
// locks, fn's first. The caller must hold fn locked.
func (fn *FileNode) DetachAllLocked() []Layout {
	var detached []Layout
	var handles []LayoutHandle
	fn.layouts.Each(func(h LayoutHandle, l Layout) {
		handles = append(handles, h)
		detached = append(detached, l)
	})
	for _, h := range handles {
		fn.layouts.Remove(h)
	}
	return detached
}
