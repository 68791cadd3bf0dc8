// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command qtrunner runs student-submitted kernel patches, read one path per
// line from stdin, against a suite of QEMU-backed build/test scenarios,
// emitting a CSV verdict line per solution to stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"qtrunner/pkg/dispatcher"
	"qtrunner/pkg/image"
	"qtrunner/pkg/log"
	"qtrunner/pkg/osutil"
	"qtrunner/pkg/report"
	"qtrunner/pkg/scenario"
	"qtrunner/pkg/solution"
	"qtrunner/pkg/suite"
	"qtrunner/vm/qemu"
)

const gracePeriod = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		suitePath      = pflag.String("suite", "", "suite JSON file (required)")
		baseImagePath  = pflag.String("base-image", "", "raw MINIX3 disk image (required)")
		qemuCmd        = pflag.String("qemu-cmd", "qemu-system-i386", "QEMU spawn command")
		qemuImgCmd     = pflag.String("qemu-img-cmd", "qemu-img", "COW-image creation command")
		kvm            = pflag.Bool("kvm", false, "enable -enable-kvm -cpu host")
		concurrency    = pflag.Int64("concurrency", 1, "global concurrency cap")
		reportPath     = pflag.String("report", "", "structured report path (newline-delimited JSON)")
		preserveImages = pflag.Bool("preserve-images", false, "keep build/test images instead of deleting them")
	)
	pflag.Parse()

	if *suitePath == "" || *baseImagePath == "" {
		fmt.Fprintln(os.Stderr, "qtrunner: --suite and --base-image are required")
		pflag.Usage()
		return 2
	}
	if !osutil.IsExist(*baseImagePath) {
		fmt.Fprintf(os.Stderr, "qtrunner: base image %q does not exist\n", *baseImagePath)
		return 2
	}

	data, err := os.ReadFile(*suitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qtrunner: failed to read suite: %v\n", err)
		return 1
	}
	su, err := suite.Parse(data, filepath.Dir(*suitePath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "qtrunner: invalid suite: %v\n", err)
		return 1
	}

	workdir, err := os.MkdirTemp("", "qtrunner-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "qtrunner: failed to create workdir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workdir)

	images, err := image.NewManager(*qemuImgCmd, filepath.Join(workdir, "images"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "qtrunner: failed to set up image manager: %v\n", err)
		return 1
	}
	baseImage := images.Base(osutil.Abs(*baseImagePath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installDrainHandler(cancel)

	cfg := qemu.Config{Qemu: *qemuCmd, QemuImg: *qemuImgCmd, CPU: 1, Mem: 1024, KVM: *kvm}
	deps := scenario.Deps{
		Cfg:             cfg,
		SSHUser:         su.User,
		SSHPassword:     su.Password,
		SSHTimeout:      time.Duration(su.SSHTimeoutMs) * time.Millisecond,
		PoweroffTimeout: time.Duration(su.PoweroffTimeoutMs) * time.Millisecond,
		PoweroffCommand: su.PoweroffCommand,
		StepTimeout:     time.Duration(su.StepTimeoutMs) * time.Millisecond,
		OutputLimit:     su.EffectiveOutputLimit(),
		Workdir:         filepath.Join(workdir, "instances"),
	}

	pipeline := &solution.Pipeline{
		Suite:          su,
		Images:         images,
		BaseImage:      baseImage,
		DepsTemplate:   deps,
		PreserveImages: *preserveImages,
	}

	var reportWriter *report.Writer
	if *reportPath != "" {
		f, err := os.Create(*reportPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "qtrunner: failed to create report file: %v\n", err)
			return 1
		}
		defer f.Close()
		reportWriter = report.NewWriter(f)
	}

	d := &dispatcher.Dispatcher{Pipeline: pipeline, Concurrency: *concurrency}
	results := make(chan solution.Result)
	go d.Run(ctx, os.Stdin, results)

	for res := range results {
		fmt.Println(report.CSVLine(res))
		if reportWriter != nil {
			if err := reportWriter.Write(res); err != nil {
				log.Warnf("qtrunner: failed to write report line for %v: %v", res.Solution.Path, err)
			}
		}
	}
	return 0
}

// installDrainHandler cancels the root context on SIGINT/SIGTERM, giving
// in-flight scenarios a bounded grace period to force-kill their QEMU
// children; once gracePeriod has passed, the process exits with status 1.
// This is a best-effort convenience, not a correctness requirement.
func installDrainHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("qtrunner: received shutdown signal, draining in-flight solutions (grace period %v)", gracePeriod)
		cancel()
		time.Sleep(gracePeriod)
		log.Errorf("qtrunner: grace period expired, exiting")
		os.Exit(1)
	}()
}
