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

package main

import (
	"context"
	"fmt"
	"log"
	"log/syslog"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joeriggs/proxybridge/internal/passthrough"
)

var (
	flagDebug        bool
	flagForeground   bool
	flagSingleThread bool
	flagCloneFd      bool
)

func main() {
	root := &cobra.Command{
		Use:     "proxybridge <mount-point>",
		Short:   "Mirror PROXY_BRIDGE_DST at a FUSE mount point, impersonating the caller",
		Args:    cobra.ExactArgs(1),
		Version: versionString(),
		RunE:    run,
	}

	bindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlags registers every flag against the *pflag.FlagSet cobra hands
// back from Flags(), the same split gcsfuse's cfg package keeps between
// building a command and binding its flags.
func bindFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&flagDebug, "debug", false, "log every FUSE request and reply")
	flagSet.BoolVar(&flagForeground, "foreground", false, "stay attached to the terminal instead of logging to syslog")
	flagSet.BoolVar(&flagSingleThread, "singlethread", false, "accepted for compatibility; has no effect (requests are always served concurrently)")
	flagSet.BoolVar(&flagCloneFd, "clone-fd", false, "accepted for compatibility; has no effect")
}

func versionString() string {
	return "proxybridge (built from source)"
}

func run(cmd *cobra.Command, args []string) error {
	mountPoint := args[0]

	dst := os.Getenv("PROXY_BRIDGE_DST")
	if dst == "" {
		return fmt.Errorf("PROXY_BRIDGE_DST is not set")
	}
	if info, err := os.Stat(dst); err != nil {
		return fmt.Errorf("PROXY_BRIDGE_DST %q: %w", dst, err)
	} else if !info.IsDir() {
		return fmt.Errorf("PROXY_BRIDGE_DST %q is not a directory", dst)
	}

	debugLogger, errLogger, err := buildLoggers()
	if err != nil {
		return err
	}

	fs, err := passthrough.New(dst, debugLoggerOrNil(debugLogger), errLogger)
	if err != nil {
		return fmt.Errorf("mounting %q: %w", dst, err)
	}
	defer fs.Destroy()

	server := fuseutil.NewFileSystemServer(fs)

	// --singlethread and --clone-fd are accepted for compatibility with the
	// original implementation's command line; jacobsa/fuse dispatches each
	// op on its own goroutine rather than exposing a libfuse-style
	// single/multi-threaded loop knob, so they are otherwise no-ops here.
	cfg := &fuse.MountConfig{
		ErrorLogger: errLogger,
		ReadOnly:    false,
	}
	if flagDebug {
		cfg.DebugLogger = debugLogger
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		return fmt.Errorf("Mount: %w", err)
	}

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("Join: %w", err)
	}

	return nil
}

func debugLoggerOrNil(l *log.Logger) *log.Logger {
	if !flagDebug {
		return nil
	}
	return l
}

// buildLoggers constructs the debug and error loggers. When running in the
// foreground they write to stdout/stderr, matching every mount.go sample in
// the retrieval pack; otherwise the error logger is backed by syslog, per
// the system log requirement.
func buildLoggers() (debugLogger, errLogger *log.Logger, err error) {
	debugLogger = log.New(os.Stdout, "proxybridge: ", 0)

	if flagForeground {
		errLogger = log.New(os.Stderr, "proxybridge: ", 0)
		return debugLogger, errLogger, nil
	}

	w, err := syslog.New(syslog.LOG_ERR|syslog.LOG_DAEMON, "proxybridge")
	if err != nil {
		return nil, nil, fmt.Errorf("syslog: %w", err)
	}
	errLogger = log.New(w, "", 0)
	return debugLogger, errLogger, nil
}
