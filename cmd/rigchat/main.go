// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command rigchat is a terminal client for chatting with hosted and local
// language models. Chats are saved locally and stay in step across every
// rigchat process that shares a data directory.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
		os.Exit(1)
	}
}
