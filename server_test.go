// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package pnfslayout

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/objectfs/pnfslayout/internal/registry"
	"github.com/objectfs/pnfslayout/internal/striping"
	"github.com/objectfs/pnfslayout/internal/xdr"
	"github.com/objectfs/pnfslayout/layoutops"
)

type fakeDeviceTable struct {
	info map[uint64]layoutops.DeviceInfo
}

func (t *fakeDeviceTable) Device(ctx context.Context, exportID uint64, id layoutops.DeviceID) (layoutops.DeviceInfo, error) {
	info, ok := t.info[id.DeviceIndex]
	if !ok {
		return layoutops.DeviceInfo{}, ErrUnknownDevice
	}
	return info, nil
}

type fakeCapIssuer struct {
	nextGrant int
	released  []layoutops.CapabilityToken
	failNext  bool
}

func (c *fakeCapIssuer) Issue(ctx context.Context, exportID, client uint64, seg layoutops.Segment, devices []layoutops.DeviceID) (layoutops.CapabilityToken, [][]byte, error) {
	if c.failNext {
		c.failNext = false
		return nil, nil, ErrNoCapability
	}
	c.nextGrant++
	creds := make([][]byte, len(devices))
	for i := range creds {
		creds[i] = []byte{byte(c.nextGrant), byte(i)}
	}
	return c.nextGrant, creds, nil
}

func (c *fakeCapIssuer) Release(ctx context.Context, grant layoutops.CapabilityToken) {
	c.released = append(c.released, grant)
}

type fakeIOErrorSink struct {
	errs []layoutops.IOError
}

func (s *fakeIOErrorSink) HandleIOError(ctx context.Context, exportID uint64, err layoutops.IOError) {
	s.errs = append(s.errs, err)
}

func unstriped() striping.Layout {
	return striping.Layout{StripeUnit: 4096, GroupWidth: 1, GroupDepth: 1, MirrorsPlus1: 1, Parity: 0}
}

func redundant() striping.Layout {
	return striping.Layout{StripeUnit: 4096, GroupWidth: 3, GroupDepth: 1, MirrorsPlus1: 1, Parity: 1}
}

func newTestServer(t *testing.T, layout striping.Layout, caps CapabilityIssuer) (*Server, *fakeDeviceTable) {
	t.Helper()
	dt := &fakeDeviceTable{info: map[uint64]layoutops.DeviceInfo{
		0: {SystemID: []byte{1, 2, 3}, OSDName: "osd0", NetworkAddress: "10.0.0.1:1234", Available: true},
	}}
	s := NewServer(dt, caps, ServerConfig{
		Striping:          layout,
		SharedStripeCount: 1,
		GroupCount:        1,
		Clock:             timeutil.RealClock(),
	})
	return s, dt
}

func TestNewServerDefaultsSharedStripeCountToEight(t *testing.T) {
	dt := &fakeDeviceTable{info: map[uint64]layoutops.DeviceInfo{}}
	s := NewServer(dt, &fakeCapIssuer{}, ServerConfig{Striping: redundant()})
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	result, status := s.LayoutGet(context.Background(), fn, fh, LayoutGetArgs{
		ClientID:  1,
		Requested: layoutops.Range{Offset: 0, Length: 10},
		Mode:      layoutops.IoModeReadWrite,
	})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutGet status = %v; want StatusOK", status)
	}

	stripeSize := redundant().StripeSize()
	if want := stripeSize * 8; result.Granted.Range.Length != want {
		t.Errorf("Granted.Range.Length = %d; want %d (stripe size %d times the default shared stripe count of 8)",
			result.Granted.Range.Length, want, stripeSize)
	}
}

func TestLayoutGetGrantsAlignedSegment(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	result, status := s.LayoutGet(context.Background(), fn, fh, LayoutGetArgs{
		ClientID:  1,
		ExportID:  1,
		Requested: layoutops.Range{Offset: 0, Length: 100},
		Mode:      layoutops.IoModeRead,
	})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutGet status = %v; want StatusOK", status)
	}
	if len(result.Body) == 0 {
		t.Errorf("LayoutGet returned an empty body")
	}
	if !result.ReturnOnClose {
		t.Errorf("ReturnOnClose = false; want true")
	}

	fn.Lock()
	n := fn.LenLocked()
	fn.Unlock()
	if n != 1 {
		t.Errorf("file node has %d layouts after LayoutGet; want 1", n)
	}
}

func TestLayoutGetPropagatesCapabilityIssuerFailure(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{failNext: true})
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	_, status := s.LayoutGet(context.Background(), fn, fh, LayoutGetArgs{
		ClientID:  1,
		Requested: layoutops.Range{Offset: 0, Length: 100},
		Mode:      layoutops.IoModeRead,
	})
	if status != layoutops.StatusTryLater {
		t.Fatalf("LayoutGet status = %v; want StatusTryLater", status)
	}
}

func TestLayoutGetRaisesRecallAgainstConflictingWriter(t *testing.T) {
	caps := &fakeCapIssuer{}
	s, _ := newTestServer(t, redundant(), caps)
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	// Client 1 holds a ReadWrite layout over the whole first stripe.
	first, status := s.LayoutGet(context.Background(), fn, fh, LayoutGetArgs{
		ClientID:  1,
		Requested: layoutops.Range{Offset: 0, Length: 10},
		Mode:      layoutops.IoModeReadWrite,
	})
	if status != layoutops.StatusOK {
		t.Fatalf("first LayoutGet status = %v; want StatusOK", status)
	}
	if first.Granted.Range.Length == 0 {
		t.Fatalf("first LayoutGet granted an empty range")
	}

	// Client 2 asks for an overlapping write; it should provoke a recall
	// rather than being granted immediately.
	_, status = s.LayoutGet(context.Background(), fn, fh, LayoutGetArgs{
		ClientID:  2,
		Requested: layoutops.Range{Offset: 0, Length: 10},
		Mode:      layoutops.IoModeReadWrite,
	})
	if status != layoutops.StatusRecallConflict {
		t.Fatalf("second LayoutGet status = %v; want StatusRecallConflict", status)
	}

	events, recvStatus := s.ReceiveRecalls(context.Background(), 10, false)
	if recvStatus != layoutops.StatusOK {
		t.Fatalf("ReceiveRecalls status = %v; want StatusOK", recvStatus)
	}
	if len(events) != 1 {
		t.Fatalf("ReceiveRecalls returned %d events; want 1", len(events))
	}
	if events[0].ClientID != 1 {
		t.Errorf("recalled ClientID = %d; want 1 (the original holder)", events[0].ClientID)
	}
}

func TestLayoutReturnReleasesCapabilityAndClearsInROCState(t *testing.T) {
	caps := &fakeCapIssuer{}
	s, _ := newTestServer(t, unstriped(), caps)
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	fn.Lock()
	h := fn.AddLocked(layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeRead}, 1, 7, nil, nil)
	fn.Unlock()

	status := s.LayoutReturn(context.Background(), fn, fh, h, LayoutReturnArgs{})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutReturn status = %v; want StatusOK", status)
	}
	if len(caps.released) != 1 || caps.released[0] != layoutops.CapabilityToken(7) {
		t.Errorf("caps.released = %v; want [7]", caps.released)
	}

	fn.Lock()
	inROC := fn.InROCStateLocked()
	n := fn.LenLocked()
	fn.Unlock()
	if n != 0 {
		t.Errorf("file node has %d layouts after return; want 0", n)
	}
	if inROC {
		t.Errorf("in_roc_state still set after draining the last layout with no recall pending")
	}
}

func TestLayoutReturnResolvesRecallDrivenReturnAndReleasesCapability(t *testing.T) {
	caps := &fakeCapIssuer{}
	s, _ := newTestServer(t, unstriped(), caps)
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	fn.Lock()
	h := fn.AddLocked(layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeReadWrite}, 1, 7, nil, nil)
	fn.Unlock()

	cookie, recallStatus := s.recalls.LayoutRecall(fn, nil, 2, layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeReadWrite}, nil)
	if recallStatus != layoutops.StatusOK {
		t.Fatalf("LayoutRecall status = %v; want StatusOK", recallStatus)
	}

	// The layout is no longer in the file's own registry; only the cookie
	// from the recall lets LayoutReturn find it.
	fn.Lock()
	_, stillPresent := fn.GetLocked(h)
	fn.Unlock()
	if stillPresent {
		t.Fatalf("layout still present on file node after a recall matched it")
	}

	status := s.LayoutReturn(context.Background(), fn, fh, h, LayoutReturnArgs{RecallCookie: cookie})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutReturn status = %v; want StatusOK", status)
	}
	if len(caps.released) != 1 || caps.released[0] != layoutops.CapabilityToken(7) {
		t.Fatalf("caps.released = %v; want [7]", caps.released)
	}
	if s.recalls.FileHasOutstandingRecalls(fh) {
		t.Errorf("FileHasOutstandingRecalls still true after the recall's only layout was returned")
	}
}

func TestLayoutGetTooSmallWhenMaxBodyLenTooSmall(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	_, status := s.LayoutGet(context.Background(), fn, fh, LayoutGetArgs{
		ClientID:  1,
		Requested: layoutops.Range{Offset: 0, Length: 100},
		Mode:      layoutops.IoModeRead,
		MaxBodyLen: 4,
	})
	if status != layoutops.StatusTooSmall {
		t.Fatalf("LayoutGet status = %v; want StatusTooSmall", status)
	}

	fn.Lock()
	n := fn.LenLocked()
	fn.Unlock()
	if n != 0 {
		t.Errorf("file node has %d layouts after a TooSmall LayoutGet; want 0", n)
	}
}

func TestLayoutReturnDrainsIOErrorsThroughSink(t *testing.T) {
	sink := &fakeIOErrorSink{}
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})
	s.ioErrors = sink
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	fn.Lock()
	h := fn.AddLocked(layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeRead}, 1, 7, nil, nil)
	fn.Unlock()

	c := xdr.NewCursor(32)
	c.PutUint32(5)
	c.PutBool(true)
	c.PutUint64(0xabc)
	c.PutUint64(0)
	c.PutUint64(10)

	status := s.LayoutReturn(context.Background(), fn, fh, h, LayoutReturnArgs{XDRBody: c.Bytes()})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutReturn status = %v; want StatusOK", status)
	}
	if len(sink.errs) != 1 {
		t.Fatalf("sink received %d errors; want 1", len(sink.errs))
	}
	if sink.errs[0].Errno != 5 || !sink.errs[0].IsWrite || sink.errs[0].ObjectID != 0xabc {
		t.Errorf("sink.errs[0] = %+v; unexpected contents", sink.errs[0])
	}
}

func TestLayoutCommitGrowsSizeAndAdvancesMTime(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	result, status := s.LayoutCommit(context.Background(), fn, fh, LayoutCommitArgs{
		NewOffsetValid: true,
		LastWrite:      99,
	})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutCommit status = %v; want StatusOK", status)
	}
	if !result.SizeSupplied || result.NewSize != 100 {
		t.Errorf("LayoutCommit result = %+v; want SizeSupplied=true NewSize=100", result)
	}

	fn.Lock()
	mtime := fn.MTimeLocked()
	fn.Unlock()
	if mtime.IsZero() {
		t.Errorf("MTimeLocked() after LayoutCommit is the zero time; want the clock's current time")
	}
}

func TestLayoutCommitSuppressedDuringOutstandingRecall(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	fn.Lock()
	fn.AddLocked(layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeReadWrite}, 1, nil, nil, nil)
	fn.Unlock()

	if _, status := s.recalls.LayoutRecall(fn, nil, 2, layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeReadWrite}, nil); status != layoutops.StatusOK {
		t.Fatalf("LayoutRecall status = %v; want StatusOK", status)
	}

	result, status := s.LayoutCommit(context.Background(), fn, fh, LayoutCommitArgs{NewOffsetValid: true, LastWrite: 99})
	if status != layoutops.StatusOK {
		t.Fatalf("LayoutCommit status = %v; want StatusOK", status)
	}
	if result.SizeSupplied {
		t.Errorf("LayoutCommit reported a size while a recall is outstanding")
	}
}

func TestGetDeviceInfoEncodesBody(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})

	result, status := s.GetDeviceInfo(context.Background(), GetDeviceInfoArgs{
		ExportID: 1,
		DeviceID: layoutops.DeviceID{SuperBlockID: 1, DeviceIndex: 0},
	})
	if status != layoutops.StatusOK {
		t.Fatalf("GetDeviceInfo status = %v; want StatusOK", status)
	}
	if len(result.Body) == 0 {
		t.Errorf("GetDeviceInfo returned an empty body")
	}
}

func TestGetDeviceInfoTooSmallWhenMaxBodyLenTooSmall(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})

	_, status := s.GetDeviceInfo(context.Background(), GetDeviceInfoArgs{
		ExportID:   1,
		DeviceID:   layoutops.DeviceID{SuperBlockID: 1, DeviceIndex: 0},
		MaxBodyLen: 4,
	})
	if status != layoutops.StatusTooSmall {
		t.Fatalf("GetDeviceInfo status = %v; want StatusTooSmall", status)
	}
}

func TestGetDeviceInfoUnknownDeviceReportsBadLayout(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})

	_, status := s.GetDeviceInfo(context.Background(), GetDeviceInfoArgs{
		ExportID: 1,
		DeviceID: layoutops.DeviceID{SuperBlockID: 1, DeviceIndex: 99},
	})
	if status != layoutops.StatusBadLayout {
		t.Fatalf("GetDeviceInfo status = %v; want StatusBadLayout", status)
	}
}

func TestCloseFileReleasesRegistryAndRecalledCapabilities(t *testing.T) {
	caps := &fakeCapIssuer{}
	s, _ := newTestServer(t, unstriped(), caps)
	fh := registry.FileHandle{InodeID: 1}
	fn := registry.NewFileNode(fh)

	fn.Lock()
	fn.AddLocked(layoutops.Segment{Range: layoutops.Range{Offset: 0, Length: 10}, IoMode: layoutops.IoModeRead}, 1, 7, nil, nil)
	fn.AddLocked(layoutops.Segment{Range: layoutops.Range{Offset: 100, Length: 10}, IoMode: layoutops.IoModeReadWrite}, 2, 9, nil, nil)
	fn.Unlock()

	// Recall the second layout out of the file's own registry, so CloseFile
	// has to find its capability through the recall set instead.
	if _, status := s.recalls.LayoutRecall(fn, nil, 3, layoutops.Segment{Range: layoutops.Range{Offset: 100, Length: 10}, IoMode: layoutops.IoModeReadWrite}, nil); status != layoutops.StatusOK {
		t.Fatalf("LayoutRecall status = %v; want StatusOK", status)
	}

	n := s.CloseFile(context.Background(), fn, fh)
	if n != 2 {
		t.Fatalf("CloseFile released %d capabilities; want 2", n)
	}

	gotSet := map[layoutops.CapabilityToken]bool{}
	for _, g := range caps.released {
		gotSet[g] = true
	}
	if !gotSet[layoutops.CapabilityToken(7)] || !gotSet[layoutops.CapabilityToken(9)] {
		t.Errorf("caps.released = %v; want both 7 and 9", caps.released)
	}

	if s.recalls.FileHasOutstandingRecalls(fh) {
		t.Errorf("FileHasOutstandingRecalls still true after CloseFile")
	}

	fn.Lock()
	remaining := fn.LenLocked()
	inROC := fn.InROCStateLocked()
	fn.Unlock()
	if remaining != 0 {
		t.Errorf("file node has %d layouts after CloseFile; want 0", remaining)
	}
	if inROC {
		t.Errorf("in_roc_state still set after CloseFile")
	}
}

func TestCancelRecallsWakesReceiveRecalls(t *testing.T) {
	s, _ := newTestServer(t, unstriped(), &fakeCapIssuer{})

	done := make(chan layoutops.Status, 1)
	go func() {
		_, status := s.ReceiveRecalls(context.Background(), 10, true)
		done <- status
	}()

	s.CancelRecalls(context.Background(), nil, 0)

	select {
	case status := <-done:
		if status != layoutops.StatusOK {
			t.Errorf("ReceiveRecalls status = %v; want StatusOK", status)
		}
	case <-time.After(time.Second):
		t.Fatal("ReceiveRecalls never returned after CancelRecalls")
	}
}
