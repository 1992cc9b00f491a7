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

// Conflict decides whether a held segment (segRange, segMode, segClient)
// conflicts with a requested one (reqRange, reqMode, reqClient). It is a
// pure predicate with no notion of policy; callers decide what io modes and
// client ids make sense to pass (e.g. LayoutGet's inline recall always asks
// with mode=ReadWrite, a real recall never asks with client=0 unless it
// means to hit everyone).
//
// This is a direct port of seg_conflict in pnfs_layout_logic.c, with the
// same three rules applied in the same order:
//
//  1. reqClient != 0 and segClient == reqClient: never a conflict. A client
//     does not conflict with its own layout.
//  2. segMode & reqMode == 0: never a conflict. Read and ReadWrite share no
//     bit, so a Read-vs-ReadWrite pair is always mode-disjoint and exits
//     here; two Read segments, or two ReadWrite segments, do share a bit
//     and fall through to rule 3.
//  3. Otherwise, conflict iff the ranges overlap.
func Conflict(segRange Range, segMode IoMode, segClient uint64, reqRange Range, reqMode IoMode, reqClient uint64) bool {
	if reqClient != 0 && segClient == reqClient {
		return false
	}
	if segMode&reqMode == 0 {
		return false
	}
	return Overlap(segRange, reqRange)
}
