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

// Package recall implements the server-wide recall set and its delivery
// channel: pnfs_lo_recall, pnfs_lo_receive_recalls and pnfs_lo_cancel_recalls
// from pnfs_layout_logic.c, translated from a wait-queue-and-linked-list
// design to a sync.Cond-guarded arena.
//
// A Recall is anchored twice, the "pnfs_*" way rather than the racier
// "pkc_*" way the same source also shows: once on the Root's ready list
// (consumed by ReceiveRecalls) and once in Root.byFile, keyed by the file it
// was raised against (consulted to avoid re-recalling an already-recalled
// range, and to garbage collect a Recall once LayoutReturn drains its last
// layout). Root touches a registry.FileNode only through its exported
// methods: LayoutRecall locks the file itself, walks its layouts and detaches
// the matched ones; after that a Recall holds their registry.LayoutHandle
// values and capability tokens plus a *registry.FileNode naming the file.
package recall

import (
	"context"
	"sync"

	"github.com/jacobsa/syncutil"
	"github.com/objectfs/pnfslayout/internal/arena"
	"github.com/objectfs/pnfslayout/internal/registry"
	"github.com/objectfs/pnfslayout/layoutops"
)

// Handle addresses one Recall inside a Root.
type Handle = arena.Handle[Recall]

// recalledLayout is one layout folded into a Recall: its handle (so
// LayoutReturn/Resolve can tell it apart from the recall's other layouts)
// and the capability token it carried, carried along so it can still be
// released once the recall drains even though the layout itself left
// file.layouts the moment it was recalled.
type recalledLayout struct {
	Handle registry.LayoutHandle
	Caps   layoutops.CapabilityToken
}

// Recall is one outstanding recall: the merged range/mode/client of every
// layout it covers (the Go counterpart of pan_cb_layoutrecall_event), plus
// the file it was raised against and the specific layouts it's waiting on.
type Recall struct {
	Segment        layoutops.Segment
	ClientID       uint64
	RecallFileInfo layoutops.RecallFileInfo
	Waiter         layoutops.Waiter

	File    *registry.FileNode
	Layouts []recalledLayout
}

func (r *Recall) merge(seg layoutops.Segment, client uint64) {
	r.Segment.Range = layoutops.Merge(r.Segment.Range, seg.Range)

	switch {
	case r.ClientID == 0:
		r.ClientID = client
	case r.ClientID != client:
		// Recalling on behalf of everyone (the original call used
		// clientid=0); once two different clients are folded into the same
		// recall there is no single clientid left to report, so fall back
		// to a sentinel that will never again match seg_conflict's
		// self-exemption rule.
		r.ClientID = ^uint64(0)
	}

	r.Segment.IoMode |= seg.IoMode
}

// Root is the server-wide recall set: every recall not yet fully returned,
// plus the wait/signal machinery ReceiveRecalls blocks on.
type Root struct {
	mu   syncutil.InvariantMutex
	cond sync.Cond

	// recalls holds every live Recall, whether or not it has been delivered
	// via ReceiveRecalls yet.
	// GUARDED_BY(mu)
	recalls arena.Arena[Recall]

	// ready holds the handles still waiting to be delivered by
	// ReceiveRecalls; the counterpart of pnfs_root->recalls.
	// GUARDED_BY(mu)
	ready []Handle

	// byFile indexes every live recall by the file it targets, the
	// counterpart of pnfs_node->recalls (the per_node list). A recall stays
	// here after delivery, until LayoutReturn drains its last layout.
	// GUARDED_BY(mu)
	byFile map[registry.FileHandle][]Handle

	// canceled mirrors recalls_canceled: set by CancelRecalls to wake a
	// sleeping ReceiveRecalls with an immediate empty result exactly once.
	// GUARDED_BY(mu)
	canceled bool
}

// NewRoot returns an empty Root.
func NewRoot() *Root {
	r := &Root{byFile: make(map[registry.FileHandle][]Handle)}
	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)
	r.cond.L = &r.mu
	return r
}

func (r *Root) checkInvariants() {
	// INVARIANT: every handle in ready names a live recall
	for _, h := range r.ready {
		if _, ok := r.recalls.Get(h); !ok {
			panic("recall: ready list references a freed recall")
		}
	}
}

// conflictingRecall reports whether an in-flight recall against file already
// covers (seg, client), the linear scan pnfs_lo_recall does over
// pnfs_node->recalls when a fresh scan of the layout list turns up nothing
// new to recall.
func (r *Root) conflictingRecall(file registry.FileHandle, seg layoutops.Segment, client uint64) bool {
	for _, h := range r.byFile[file] {
		rec, ok := r.recalls.Get(h)
		if !ok {
			continue
		}
		if layoutops.Conflict(rec.Segment.Range, rec.Segment.IoMode, rec.ClientID, seg.Range, seg.IoMode, client) {
			return true
		}
	}
	return false
}

// LayoutRecall scans file's layouts for everything conflicting with
// (seg, client), optionally filtered to a single capability token, and
// raises a recall covering whatever it finds. It returns layoutops.StatusOK
// with the new recall's cookie if a recall was raised, StatusNoMatchingLayout
// if nothing conflicted and no existing recall already covers the range, or
// StatusTryLater if nothing new conflicted but an existing recall against
// file already covers it (the caller should treat that as "already in
// flight", the EAGAIN case in pnfs_lo_recall).
//
// file must not be locked by the caller; LayoutRecall locks it itself,
// before r, per the file-node-before-root ordering invariant.
func (r *Root) LayoutRecall(file *registry.FileNode, caps layoutops.CapabilityToken, client uint64, seg layoutops.Segment, waiter layoutops.Waiter) (any, layoutops.Status) {
	file.Lock()
	defer file.Unlock()

	var matched []recalledLayout
	var rec Recall

	file.EachLocked(func(h registry.LayoutHandle, l registry.Layout) {
		if !layoutops.Conflict(l.Segment.Range, l.Segment.IoMode, l.Client, seg.Range, seg.IoMode, client) {
			return
		}
		if caps != nil && caps != l.Caps {
			return
		}
		matched = append(matched, recalledLayout{Handle: h, Caps: l.Caps})
		if len(matched) == 1 {
			rec = Recall{Segment: l.Segment, ClientID: l.Client}
		} else {
			rec.merge(l.Segment, l.Client)
		}
	})

	if len(matched) == 0 {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.conflictingRecall(file.Handle(), seg, client) {
			return nil, layoutops.StatusTryLater
		}
		return nil, layoutops.StatusNoMatchingLayout
	}

	for _, m := range matched {
		file.DetachLocked(m.Handle)
	}

	rec.File = file
	rec.Layouts = matched
	rec.RecallFileInfo = file.RecallFileInfoLocked()
	rec.Waiter = waiter

	r.mu.Lock()
	h := r.recalls.Insert(rec)
	r.ready = append(r.ready, h)
	r.byFile[file.Handle()] = append(r.byFile[file.Handle()], h)
	r.mu.Unlock()

	r.cond.Broadcast()

	return h, layoutops.StatusOK
}

// ReceiveRecalls drains up to maxEvents ready recalls into events. If none
// are ready and allowSleep is true, it blocks until one arrives, ctx is
// canceled, or CancelRecalls fires; if allowSleep is false it returns
// immediately, with zero events if none were ready. A pending cancellation
// from CancelRecalls is consumed (cleared) exactly once per call regardless
// of allowSleep, matching pnfs_lo_receive_recalls's recalls_canceled
// handling, and reported as zero events rather than an error.
func (r *Root) ReceiveRecalls(ctx context.Context, maxEvents int, allowSleep bool) ([]layoutops.RecallEvent, layoutops.Status) {
	stop := r.wireContextCancellation(ctx)
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		var events []layoutops.RecallEvent
		if len(r.ready) > 0 {
			n := maxEvents
			if n > len(r.ready) {
				n = len(r.ready)
			}

			events = make([]layoutops.RecallEvent, n)
			for i := 0; i < n; i++ {
				h := r.ready[i]
				rec, _ := r.recalls.Get(h)
				events[i] = layoutops.RecallEvent{
					Segment:        rec.Segment,
					ClientID:       rec.ClientID,
					RecallFileInfo: rec.RecallFileInfo,
					Cookie:         h,
				}
			}
			r.ready = r.ready[n:]
		}

		dontSleep := false
		if r.canceled {
			r.canceled = false
			dontSleep = true
		}

		if len(events) > 0 || !allowSleep {
			return events, layoutops.StatusOK
		}
		if dontSleep {
			return nil, layoutops.StatusOK
		}
		if ctx.Err() != nil {
			return nil, layoutops.StatusInterrupted
		}

		r.cond.Wait()
	}
}

// CancelRecalls wakes any blocked ReceiveRecalls with an empty, immediate
// result, or, if none is blocked, makes the next ReceiveRecalls return
// without sleeping. It recalls nothing itself; the debug_magic forced recall
// is ForceRecallAll.
func (r *Root) CancelRecalls() {
	r.mu.Lock()
	r.canceled = true
	r.mu.Unlock()

	r.cond.Broadcast()
}

// ForceRecallAll recalls every layout currently registered against file,
// regardless of conflict, the debug_magic test hook from
// pnfs_lo_cancel_recalls. It reports whether anything was recalled.
func (r *Root) ForceRecallAll(file *registry.FileNode) bool {
	seg := layoutops.Segment{
		Range:  layoutops.Range{Offset: 0, Length: layoutops.Infinity},
		IoMode: layoutops.IoModeAny,
	}
	_, status := r.LayoutRecall(file, nil, 0, seg, nil)
	return status == layoutops.StatusOK
}

// Resolve removes layout from recall h, if it's still part of it, reporting
// the capability token it carried so the caller can release it. This is the
// Go counterpart of _lo_remove_empty_recalls: once a recall's last layout is
// resolved, the recall itself is removed from both the ready list (if it
// hadn't been delivered yet) and the byFile index, and its arena slot is
// freed. Resolve reports found=false, with a nil token, if h does not name a
// live recall or layout is not (or no longer) one of its layouts; callers
// must not call Release on an unfound token.
func (r *Root) Resolve(h Handle, layout registry.LayoutHandle) (caps layoutops.CapabilityToken, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.recalls.GetPointer(h)
	if p == nil {
		return nil, false
	}

	for i, l := range p.Layouts {
		if l.Handle == layout {
			caps = l.Caps
			found = true
			p.Layouts = append(p.Layouts[:i], p.Layouts[i+1:]...)
			break
		}
	}
	if !found {
		return nil, false
	}

	if len(p.Layouts) > 0 {
		return caps, true
	}

	fh := p.File.Handle()
	r.removeRecallLocked(h, fh)
	return caps, true
}

// ReleaseFile removes every recall tracking file, reporting the capability
// token carried by each of their remaining layouts. This is the recall half
// of pnfs_file_close: a layout already detached into a recall when its file
// closes is no longer reachable through the FileNode's own registry, so its
// capability can only be released and its recall GC'd here.
func (r *Root) ReleaseFile(file registry.FileHandle) []layoutops.CapabilityToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	var caps []layoutops.CapabilityToken
	for _, h := range append([]Handle(nil), r.byFile[file]...) {
		rec, ok := r.recalls.Get(h)
		if !ok {
			continue
		}
		for _, l := range rec.Layouts {
			caps = append(caps, l.Caps)
		}
		r.removeRecallLocked(h, file)
	}
	return caps
}

// removeRecallLocked removes recall h, already known to have no layouts
// left to wait on, from recalls, ready and byFile. The caller must hold mu.
func (r *Root) removeRecallLocked(h Handle, fh registry.FileHandle) {
	r.recalls.Remove(h)

	for i, rh := range r.ready {
		if rh == h {
			r.ready = append(r.ready[:i], r.ready[i+1:]...)
			break
		}
	}

	list := r.byFile[fh]
	for i, rh := range list {
		if rh == h {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byFile, fh)
	} else {
		r.byFile[fh] = list
	}
}

// FileHasOutstandingRecalls reports whether file still has any live recall
// (delivered or not) tracked against it, the check pnfs_file_close and
// pnfs_lo_return use to decide whether in_roc_state should clear.
func (r *Root) FileHasOutstandingRecalls(file registry.FileHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byFile[file]) > 0
}

// wireContextCancellation starts a goroutine that broadcasts on r.cond when
// ctx is done, so a blocked ReceiveRecalls notices the cancellation instead
// of sleeping forever; it returns a function that must be called to stop
// that goroutine once the caller is done waiting. This is the same pattern
// interruptfs uses to turn an uninterruptible sync.Cond wait into one that
// respects context cancellation: a dedicated goroutine bridges the two
// notification mechanisms.
func (r *Root) wireContextCancellation(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Taking mu first means a ReceiveRecalls that already checked
			// ctx.Err() is parked in cond.Wait before this Broadcast fires.
			r.mu.Lock()
			r.mu.Unlock()
			r.cond.Broadcast()
		case <-done:
		}
	}()
	return func() { close(done) }
}
