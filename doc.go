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

// Package pnfslayout implements the layout lease bookkeeping and recall
// coordination core of a pNFS object-layout data server.
//
// The primary elements of interest are:
//
//  *  Server, which exposes the six control operations a data server's
//     NFSv4.1 frontend calls into: LayoutGet, LayoutReturn, LayoutCommit,
//     GetDeviceInfo, ReceiveRecalls and CancelRecalls.
//
//  *  DeviceTable and CapabilityIssuer, the two collaborator interfaces a
//     caller implements to plug in its own object store's device map and
//     credential scheme.
//
//  *  layoutops, which holds the wire-level types (Range, Segment, IoMode,
//     Status) shared across every operation.
//
// Server owns no network transport and no on-disk state; it is a
// concurrency-safe in-memory model of what layouts are outstanding and what
// recalls are in flight, meant to sit behind whatever XDR/RPC plumbing a
// concrete data server already has.
package pnfslayout
