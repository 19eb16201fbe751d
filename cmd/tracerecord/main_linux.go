// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Command tracerecord drives one Recorder per CPU against the
// kernel's per-CPU raw trace pipes, writing each CPU's pages to a temp
// file, then assembles a trace file container from the results. It
// intentionally does not discover or enable tracing events itself
// (spec §1 places tracing-control-filesystem manipulation out of
// scope) — the caller is expected to have already enabled the events
// it wants captured.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/tracecmdgo/tracecore/tracefile"
	"github.com/tracecmdgo/tracecore/tracerecorder"
)

func main() {
	pipePattern := flag.String("pipe-pattern", "/sys/kernel/tracing/per_cpu/cpu%d/trace_pipe_raw", "printf pattern for each CPU's raw trace pipe")
	cpus := flag.Int("cpus", 1, "number of CPUs to record")
	pageSize := flag.Int("pagesize", os.Getpagesize(), "ring buffer page size")
	out := flag.String("out", "trace.dat", "output trace file path")
	workDir := flag.String("workdir", "", "directory for per-CPU temp files (default: system temp dir)")
	flag.Parse()

	if err := run(*pipePattern, *cpus, *pageSize, *out, *workDir); err != nil {
		logrus.WithError(err).Fatal("tracerecord failed")
	}
}

func run(pipePattern string, cpus, pageSize int, out, workDir string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tmpFiles := make([]*os.File, cpus)
	recorders := make([]*tracerecorder.Recorder, cpus)
	for cpu := 0; cpu < cpus; cpu++ {
		src, err := tracerecorder.OpenFileSource(fmt.Sprintf(pipePattern, cpu))
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp(workDir, fmt.Sprintf("tracerecord-cpu%d-*.raw", cpu))
		if err != nil {
			return err
		}
		tmpFiles[cpu] = tmp
		r := tracerecorder.NewRecorder(cpu, src, tmp, pageSize)
		recorders[cpu] = r
	}

	errCh := make(chan error, cpus)
	for _, r := range recorders {
		r := r
		go func() { errCh <- r.Run(ctx) }()
	}

	<-ctx.Done()
	for _, r := range recorders {
		r.Flush()
	}
	for range recorders {
		if err := <-errCh; err != nil {
			logrus.WithError(err).Warn("recorder exited with error")
		}
	}

	return assemble(out, pageSize, tmpFiles)
}

// assemble builds a minimal trace file container from the recorded
// per-CPU temp files. It carries no event schema of its own — schema
// population is the responsibility of whatever already-open session
// wrote the events being captured, out of scope for this narrow
// capture-side entry point (spec §1).
func assemble(out string, pageSize int, tmpFiles []*os.File) error {
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()

	wr, err := tracefile.NewWriter(dst, "7", binary.LittleEndian, 8, uint32(pageSize))
	if err != nil {
		return err
	}
	if err := wr.WriteHeaderDescs(nil, nil); err != nil {
		return err
	}
	if err := wr.WriteFtraceEvents(nil); err != nil {
		return err
	}
	if err := wr.WriteEventSystems(nil); err != nil {
		return err
	}
	if err := wr.WriteSymbols(nil); err != nil {
		return err
	}
	if err := wr.WritePrintkFmts(nil); err != nil {
		return err
	}
	if err := wr.WriteOptions(nil); err != nil {
		return err
	}

	regions := make([][]byte, len(tmpFiles))
	for i, tmp := range tmpFiles {
		name := tmp.Name()
		tmp.Close()
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		regions[i] = data
		os.Remove(name)
	}

	var base int64
	if st, err := dst.Stat(); err == nil {
		base = st.Size()
	}
	return wr.WriteCPURegions(base, regions)
}
