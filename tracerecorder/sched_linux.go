// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package tracerecorder

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func applySchedHints(hints SchedHints) error {
	if len(hints.Affinity) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range hints.Affinity {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return errors.Wrap(err, "sched_setaffinity")
		}
	}
	if hints.RealtimePriority > 0 {
		param := &unix.SchedParam{Priority: int32(hints.RealtimePriority)}
		if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, param); err != nil {
			return errors.Wrap(err, "sched_setscheduler")
		}
	}
	return nil
}
