// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package pnfslayout

import (
	"context"

	"github.com/objectfs/pnfslayout/layoutops"
)

// DeviceTable answers GetDeviceInfo requests: given a device id, what
// object-store device backs it. A caller implements this over its own
// export's device list; exofs's equivalent is the per-superblock
// exofs_dev array _pkc_pnfs_device_info walks.
type DeviceTable interface {
	// Device returns the DeviceInfo for id, or ErrUnknownDevice if id isn't
	// recognized for exportID.
	Device(ctx context.Context, exportID uint64, id layoutops.DeviceID) (layoutops.DeviceInfo, error)
}

// CapabilityIssuer mints and releases the credentials a granted layout
// carries. It returns two things: grant, a single opaque token
// representing the whole granted set (what the recall path compares
// layout-to-layout, lo->caps in pnfs_layout_logic.c), and wireCreds, one
// already-encoded opaque credential blob per device in device order, ready
// to drop straight into the layout's XDR body untouched (the credential
// format itself is object-store security specific and this core never
// looks inside it).
type CapabilityIssuer interface {
	Issue(ctx context.Context, exportID uint64, client uint64, seg layoutops.Segment, devices []layoutops.DeviceID) (grant layoutops.CapabilityToken, wireCreds [][]byte, err error)

	// Release invalidates a previously issued grant. Called once per grant:
	// when the layout carrying it is returned, when its file is closed, or
	// when LayoutGet cannot encode the layout it was issued for. A recall
	// alone does not release it.
	Release(ctx context.Context, grant layoutops.CapabilityToken)
}

// IOErrorSink receives the I/O error records a LayoutReturn body may carry,
// the Go counterpart of exofs_handle_error.
type IOErrorSink interface {
	HandleIOError(ctx context.Context, exportID uint64, err layoutops.IOError)
}

// NotImplementedDeviceTable may be embedded in a DeviceTable implementation
// under construction to inherit a default that reports every device as
// unknown, the same pattern NotImplementedFileSystem uses to default
// unimplemented file system methods to ENOSYS.
type NotImplementedDeviceTable struct{}

var _ DeviceTable = NotImplementedDeviceTable{}

func (NotImplementedDeviceTable) Device(ctx context.Context, exportID uint64, id layoutops.DeviceID) (layoutops.DeviceInfo, error) {
	return layoutops.DeviceInfo{}, ErrUnknownDevice
}
