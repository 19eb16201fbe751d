// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tracedump opens a trace file and prints its metadata and
// merged entry stream, mirroring the teacher's cmd/dump and
// cmd/perfdump commands for the perf.data format.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tracecmdgo/tracecore/tracefile"
	"github.com/tracecmdgo/tracecore/tracesession"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <trace-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		logrus.WithError(err).Fatal("tracedump failed")
	}
}

func run(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tf, err := tracefile.Open(f)
	if err != nil {
		return err
	}
	defer tf.Close()

	fmt.Printf("version=%s cpus=%d pagesize=%d parsing_failures=%d\n",
		tf.Version, tf.NumCPUs(), tf.PageSize, tf.Registry.ParsingFailures())

	sess := tracesession.New()
	if err := sess.Open(tf); err != nil {
		return err
	}
	defer sess.Close()

	fmt.Printf("observed pids: %d\n", len(sess.TaskPIDs()))

	entries, err := sess.LoadEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Println(sess.DumpEntry(e))
	}
	return nil
}
