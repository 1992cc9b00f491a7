// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package pnfslayout

import (
	"io"

	"github.com/jacobsa/timeutil"
	"github.com/objectfs/pnfslayout/internal/striping"
)

// ServerConfig configures a Server. Every field except Striping has a usable
// zero value: nil writers discard debug and error output, a zero
// SharedStripeCount means eight shared stripes for a redundant write, a zero
// GroupCount means one group and a nil Clock means the real clock. Striping
// has no default; LayoutGet needs a non-zero stripe geometry to align to.
type ServerConfig struct {
	// DebugWriter, if non-nil, receives a line per layout/recall operation.
	// Analogous to EXOFS_DBGMSG.
	DebugWriter io.Writer

	// ErrorWriter, if non-nil, receives a line per collaborator failure.
	// Analogous to EXOFS_ERR.
	ErrorWriter io.Writer

	// IOErrors receives the I/O error records a LayoutReturn body carries.
	// If nil, they are only logged to ErrorWriter.
	IOErrors IOErrorSink

	// Striping is the export's object striping geometry, used to align
	// LayoutGet requests to stripe/group boundaries.
	Striping striping.Layout

	// SharedStripeCount is the number of stripes a RAID write layout is
	// expanded to (sb_shared_num_stripes in export_ioctl.c, which defaults
	// to 8). Zero is treated as that same default of 8.
	SharedStripeCount uint64

	// GroupCount is the number of stripe groups the export's device table
	// is organized into. Zero is treated as 1 (no grouping).
	GroupCount uint32

	// Clock supplies the current time for LayoutCommit's mtime bookkeeping.
	// Defaults to timeutil.RealClock() if nil; a timeutil.SimulatedClock can
	// be supplied to control mtime deterministically.
	Clock timeutil.Clock
}
