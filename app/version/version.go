// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package version

import (
	"context"
	"runtime/debug"

	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
)

// Version is the release version of the codebase.
// Usually overridden by tag names when building binaries.
const Version = "v0.3.0"

// GitCommit returns the git commit hash and timestamp from build info.
func GitCommit() (hash string, timestamp string) {
	hash, timestamp = "unknown", "unknown"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return hash, timestamp
	}

	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			hash = s.Value[:7]
		} else if s.Key == "vcs.time" {
			timestamp = s.Value
		}
	}

	return hash, timestamp
}

// LogVersion logs quorate version information along-with the provided message.
func LogVersion(ctx context.Context, msg string) {
	gitHash, gitTimestamp := GitCommit()
	log.Info(ctx, msg,
		z.Str("version", Version),
		z.Str("git_commit_hash", gitHash),
		z.Str("git_commit_time", gitTimestamp),
	)
}
