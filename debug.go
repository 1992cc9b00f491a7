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

package pnfslayout

import (
	"io"
	"io/ioutil"
	"log"
)

// A Server's loggers are per-instance rather than a package-wide flag-gated
// singleton: a process embedding this core may run several Servers against
// several exports, each wanting its own debug-log destination.
func newLogger(w io.Writer, prefix string) *log.Logger {
	if w == nil {
		w = ioutil.Discard
	}
	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	return log.New(w, prefix, flags)
}

func (s *Server) debugf(format string, args ...any) {
	if s.debugLogger != nil {
		s.debugLogger.Printf(format, args...)
	}
}

func (s *Server) errorf(format string, args ...any) {
	if s.errorLogger != nil {
		s.errorLogger.Printf(format, args...)
	}
}
