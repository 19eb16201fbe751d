// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package tracerecorder

// applySchedHints is a no-op outside Linux: real-time scheduling and
// CPU affinity are not portable concepts the recorder can apply.
func applySchedHints(hints SchedHints) error {
	return nil
}
