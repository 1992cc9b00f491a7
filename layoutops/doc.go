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

// Package layoutops contains the wire-level types exchanged across the six
// control operations (LayoutGet, LayoutReturn, LayoutCommit, GetDeviceInfo,
// ReceiveRecalls, CancelRecalls), plus the pure data types and predicates
// they're built from: byte ranges, I/O modes, device ids and the conflict
// detector. Nothing in this package touches a lock or a goroutine; it is the
// vocabulary pnfslayout, internal/registry and internal/recall share, and it
// imports none of them.
package layoutops
