// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package pnfslayout

import "errors"

// Sentinel errors a DeviceTable or CapabilityIssuer implementation may
// return; Server treats them specially when mapping a
// collaborator failure to a Status.
var (
	// ErrUnknownDevice is returned by a DeviceTable when asked about a
	// device id it doesn't recognize.
	ErrUnknownDevice = errors.New("pnfslayout: unknown device id")

	// ErrNoCapability is returned by a CapabilityIssuer when it can't issue
	// a credential for a granted segment (e.g. the backing object store is
	// unreachable).
	ErrNoCapability = errors.New("pnfslayout: capability issuer unavailable")
)
