// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package pnfslayout

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/objectfs/pnfslayout/internal/recall"
	"github.com/objectfs/pnfslayout/internal/registry"
	"github.com/objectfs/pnfslayout/internal/striping"
	"github.com/objectfs/pnfslayout/internal/xdr"
	"github.com/objectfs/pnfslayout/layoutops"
)

// unboundedBodyLen is the Cursor bound used when a caller's *_maxcount field
// is zero, meaning it imposed no limit of its own.
const unboundedBodyLen = math.MaxInt32

// The request and result types of Server's operations are defined in
// layoutops; these aliases let callers of this package name them directly.
type (
	LayoutGetArgs       = layoutops.LayoutGetArgs
	LayoutGetResult     = layoutops.LayoutGetResult
	LayoutReturnArgs    = layoutops.LayoutReturnArgs
	LayoutCommitArgs    = layoutops.LayoutCommitArgs
	LayoutCommitResult  = layoutops.LayoutCommitResult
	GetDeviceInfoArgs   = layoutops.GetDeviceInfoArgs
	GetDeviceInfoResult = layoutops.GetDeviceInfoResult
)

// Server is the layout lease bookkeeping and recall coordination core for
// one export. It is safe for concurrent use by multiple goroutines; all of
// its exported methods may be called concurrently, for different files or
// the same one.
type Server struct {
	deviceTable DeviceTable
	caps        CapabilityIssuer
	ioErrors    IOErrorSink

	striping          striping.Layout
	sharedStripeCount uint64
	groupCount        uint32
	clock             timeutil.Clock

	debugLogger *log.Logger
	errorLogger *log.Logger

	recalls *recall.Root
}

// NewServer returns a Server backed by deviceTable and caps, configured per
// cfg.
func NewServer(deviceTable DeviceTable, caps CapabilityIssuer, cfg ServerConfig) *Server {
	sharedStripeCount := cfg.SharedStripeCount
	if sharedStripeCount == 0 {
		sharedStripeCount = 8
	}
	groupCount := cfg.GroupCount
	if groupCount == 0 {
		groupCount = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	return &Server{
		deviceTable:       deviceTable,
		caps:              caps,
		ioErrors:          cfg.IOErrors,
		striping:          cfg.Striping,
		sharedStripeCount: sharedStripeCount,
		groupCount:        groupCount,
		clock:             clock,
		debugLogger:       newLogger(cfg.DebugWriter, "pnfslayout: "),
		errorLogger:       newLogger(cfg.ErrorWriter, "pnfslayout: "),
		recalls:           recall.NewRoot(),
	}
}

// mapInternalError classifies a collaborator failure into the Status this
// core reports back to the NFS frontend. Anything it doesn't recognize
// collapses to StatusServerFault, mirroring how pnfs_layout_logic.c treats
// an allocation failure or an unexpected return code from its callbacks: it
// logs what it can and reports the most generic failure code rather than
// inventing a more specific one it cannot back up.
func (s *Server) mapInternalError(err error) layoutops.Status {
	switch err {
	case nil:
		return layoutops.StatusOK
	case ErrUnknownDevice:
		return layoutops.StatusBadLayout
	case ErrNoCapability:
		return layoutops.StatusTryLater
	default:
		s.errorf("unclassified collaborator error: %v", err)
		return layoutops.StatusServerFault
	}
}

// devicesForSegment returns the DeviceID of every component a segment
// granted under s's striping geometry stripes across, in device order.
func (s *Server) devicesForSegment(fh registry.FileHandle) []layoutops.DeviceID {
	dm := s.striping.DeviceMap(s.groupCount)
	devices := make([]layoutops.DeviceID, dm.NumComponents)
	for i := range devices {
		devices[i] = layoutops.DeviceID{SuperBlockID: fh.SuperBlockID, DeviceIndex: uint64(i)}
	}
	return devices
}

// LayoutGet grants a layout covering (at least) req.Requested, after
// aligning it to s's striping geometry. If the aligned segment would
// straddle a stripe or mirror group that another client currently holds for
// read-write, it instead raises a recall against the conflicting layouts
// and reports StatusRecallConflict, the same tradeoff _pnfs_layout_get
// makes rather than handing out a segment it can't yet safely grant.
func (s *Server) LayoutGet(ctx context.Context, file *registry.FileNode, fh registry.FileHandle, req LayoutGetArgs) (LayoutGetResult, layoutops.Status) {
	requested := layoutops.Segment{Range: req.Requested, IoMode: req.Mode}
	aligned, needRecall := striping.Align(s.striping, requested, s.sharedStripeCount)

	s.debugf("file %s: LayoutGet requested=%+v aligned=%+v needRecall=%v", fh, requested, aligned, needRecall)

	if needRecall {
		_, status := s.recalls.LayoutRecall(file, nil, req.ClientID, layoutops.Segment{Range: aligned.Range, IoMode: layoutops.IoModeReadWrite}, nil)
		switch status {
		case layoutops.StatusOK, layoutops.StatusTryLater:
			return LayoutGetResult{}, layoutops.StatusRecallConflict
		case layoutops.StatusNoMatchingLayout:
			// Nothing else held the range; fall through and grant it.
		default:
			return LayoutGetResult{}, status
		}
	}

	devices := s.devicesForSegment(fh)
	grant, wireCreds, err := s.caps.Issue(ctx, req.ExportID, req.ClientID, aligned, devices)
	if err != nil {
		return LayoutGetResult{}, s.mapInternalError(err)
	}
	if len(wireCreds) != len(devices) {
		s.errorf("file %s: CapabilityIssuer returned %d credentials for %d devices", fh, len(wireCreds), len(devices))
		return LayoutGetResult{}, layoutops.StatusServerFault
	}

	maxBodyLen := unboundedBodyLen
	if req.MaxBodyLen != 0 {
		maxBodyLen = int(req.MaxBodyLen)
	}

	dm := s.striping.DeviceMap(s.groupCount)
	c := xdr.NewCursor(maxBodyLen)
	c.PutUint64(aligned.Range.Offset)
	c.PutUint64(aligned.Range.Length)
	c.PutUint32(uint32(aligned.IoMode))
	c.PutUint64(dm.StripeUnit)
	c.PutUint32(dm.MirrorCount)
	c.PutUint32(dm.NumComponents)
	c.PutUint32(dm.GroupWidth)
	c.PutUint32(dm.GroupDepth)
	for i, dev := range devices {
		c.PutUint64(dev.SuperBlockID)
		c.PutUint64(dev.DeviceIndex)
		c.PutOpaque(wireCreds[i])
	}

	if c.Failed() {
		// Nothing was registered yet; release the capability rather than
		// leaking it against a layout the client will never learn the
		// handle for.
		s.caps.Release(ctx, grant)
		return LayoutGetResult{}, layoutops.StatusTooSmall
	}

	file.Lock()
	file.AddLocked(aligned, req.ClientID, grant, req.RecallFileInfo, s.debugf)
	file.Unlock()

	return LayoutGetResult{Body: c.Bytes(), Granted: aligned, ReturnOnClose: true}, layoutops.StatusOK
}

// LayoutReturn drains req.XDRBody's I/O error records through s's
// IOErrorSink, then resolves layout: its capability grant is released, it's
// removed from whatever recall it belonged to (garbage collecting that
// recall once its last layout drains), and in_roc_state is cleared once both
// the file's layouts and its recalls are empty. layout is looked for in two
// places: first, if req.RecallCookie names a live recall, that recall's
// waiting-on set (a return satisfying a recall, which has already detached
// layout out of the file registry by the time this runs), and then, only if
// the recall did not hold it, the file's own registry (a voluntary return).
// Either source finding it is enough to release its capability; if neither
// holds it, LayoutReturn changes nothing beyond draining the I/O error
// records and reports StatusOK. This is the Go counterpart of
// _pkc_pnfs_layout_return plus pnfs_lo_return.
func (s *Server) LayoutReturn(ctx context.Context, file *registry.FileNode, fh registry.FileHandle, layout registry.LayoutHandle, req LayoutReturnArgs) layoutops.Status {
	s.drainIOErrors(ctx, fh, req.XDRBody)

	var grant layoutops.CapabilityToken
	var found bool

	if cookie, isHandle := req.RecallCookie.(recall.Handle); isHandle {
		grant, found = s.recalls.Resolve(cookie, layout)
	}

	if !found {
		file.Lock()
		l, ok := file.GetLocked(layout)
		if ok {
			file.DetachLocked(layout)
			grant = l.Caps
			found = true
		}
		file.Unlock()
	}

	if !found {
		return layoutops.StatusOK
	}

	file.Lock()
	file.SetInROCStateLocked(true)
	file.Unlock()

	s.caps.Release(ctx, grant)

	clearedROC := false
	if !s.recalls.FileHasOutstandingRecalls(fh) {
		file.Lock()
		if file.LenLocked() == 0 {
			file.SetInROCStateLocked(false)
			clearedROC = true
		}
		file.Unlock()
	}

	s.debugf("file %s: LayoutReturn layout=%v in_roc_state cleared=%v", fh, layout, clearedROC)
	return layoutops.StatusOK
}

// CloseFile releases every capability file still holds, whether the layout
// is still sitting in file's own registry or has already been folded into
// an in-flight recall, and reports how many were released. This is the Go
// counterpart of pnfs_file_close: a file handle close returns every layout
// it ever granted, regardless of ROC state, so nothing is left waiting on a
// LayoutReturn that will never come.
func (s *Server) CloseFile(ctx context.Context, file *registry.FileNode, fh registry.FileHandle) int {
	file.Lock()
	detached := file.DetachAllLocked()
	file.SetInROCStateLocked(false)
	recalled := s.recalls.ReleaseFile(fh)
	file.Unlock()

	for _, l := range detached {
		s.caps.Release(ctx, l.Caps)
	}
	for _, caps := range recalled {
		s.caps.Release(ctx, caps)
	}

	n := len(detached) + len(recalled)
	s.debugf("file %s: CloseFile released %d capabilities", fh, n)
	return n
}

func (s *Server) drainIOErrors(ctx context.Context, fh registry.FileHandle, body []byte) {
	if len(body) == 0 {
		return
	}

	r := xdr.NewReader(body)
	for r.Remaining() > 0 {
		errno, err := r.Uint32()
		if err != nil {
			return
		}
		isWrite, err := r.Bool()
		if err != nil {
			return
		}
		objectID, err := r.Uint64()
		if err != nil {
			return
		}
		offset, err := r.Uint64()
		if err != nil {
			return
		}
		length, err := r.Uint64()
		if err != nil {
			return
		}

		ioErr := layoutops.IOError{
			Errno:    int32(errno),
			IsWrite:  isWrite,
			ObjectID: objectID,
			Offset:   offset,
			Length:   length,
		}

		if s.ioErrors != nil {
			s.ioErrors.HandleIOError(ctx, fh.SuperBlockID, ioErr)
		} else {
			s.errorf("file %s: I/O error errno=%d write=%v object=%#x offset=%#x length=%#x",
				fh, ioErr.Errno, ioErr.IsWrite, ioErr.ObjectID, ioErr.Offset, ioErr.Length)
		}
	}
}

// LayoutCommit applies a client's reported end-of-write state to file: its
// mtime (only ever moved forward when the client supplied one), its size
// (grown, never shrunk, to cover the last byte written) and the
// accumulated device-size delta. It is a no-op, matching
// _pkc_pnfs_layout_commit's in_recall short-circuit, while file has an
// outstanding recall: the size and mtime are about to change again once
// that recall's eventual LayoutReturn lands, and committing now would just
// be overwritten.
func (s *Server) LayoutCommit(ctx context.Context, file *registry.FileNode, fh registry.FileHandle, req LayoutCommitArgs) (LayoutCommitResult, layoutops.Status) {
	if s.recalls.FileHasOutstandingRecalls(fh) {
		s.debugf("file %s: LayoutCommit suppressed, recall in flight", fh)
		return LayoutCommitResult{}, layoutops.StatusOK
	}

	mtime := s.clock.Now()
	if req.TimeChanged {
		mtime = time.Unix(req.NewTimeSec, req.NewTimeNsec)
	}

	file.Lock()
	newSize, sizeGrew := file.CommitLocked(mtime, req.TimeChanged, req.LastWrite, req.NewOffsetValid, req.DSUDelta, req.DSUValid)
	file.Unlock()

	result := LayoutCommitResult{}
	if sizeGrew {
		result.SizeSupplied = true
		result.NewSize = newSize
	}

	return result, layoutops.StatusOK
}

// GetDeviceInfo encodes the device address for req.DeviceID, the Go
// counterpart of _pkc_pnfs_device_info's reserve-length/encode/backfill
// sequence.
func (s *Server) GetDeviceInfo(ctx context.Context, req GetDeviceInfoArgs) (GetDeviceInfoResult, layoutops.Status) {
	info, err := s.deviceTable.Device(ctx, req.ExportID, req.DeviceID)
	if err != nil {
		return GetDeviceInfoResult{}, s.mapInternalError(err)
	}

	maxBodyLen := unboundedBodyLen
	if req.MaxBodyLen != 0 {
		maxBodyLen = int(req.MaxBodyLen)
	}

	c := xdr.NewCursor(maxBodyLen)
	lenOffset := c.ReserveLen()
	c.PutOpaque(info.SystemID)
	c.PutOpaque([]byte(info.OSDName))
	c.PutOpaque([]byte(info.NetworkAddress))
	c.PutBool(info.Available)
	c.BackfillLen(lenOffset)

	if c.Failed() {
		return GetDeviceInfoResult{}, layoutops.StatusTooSmall
	}

	return GetDeviceInfoResult{Body: c.Bytes()}, layoutops.StatusOK
}

// ReceiveRecalls delivers up to maxEvents pending recalls, blocking (if
// allowSleep) until at least one is available, ctx is canceled, or
// CancelRecalls fires.
func (s *Server) ReceiveRecalls(ctx context.Context, maxEvents int, allowSleep bool) ([]layoutops.RecallEvent, layoutops.Status) {
	return s.recalls.ReceiveRecalls(ctx, maxEvents, allowSleep)
}

// CancelRecalls wakes any blocked ReceiveRecalls call with an empty result.
// If debugMagic is nonzero and file is non-nil it first forces a recall of
// every layout against file, the debug_magic test hook from
// pnfs_lo_cancel_recalls, and reports whether that forced recall found
// anything.
func (s *Server) CancelRecalls(ctx context.Context, file *registry.FileNode, debugMagic uint32) bool {
	var forced bool
	if debugMagic != 0 && file != nil {
		forced = s.recalls.ForceRecallAll(file)
	}
	s.recalls.CancelRecalls()
	return forced
}
