// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"runtime/debug"
	"sync"
)

const unknownVersion = "unknown"

// buildRevision is the vcs revision stamped in the binary by go build.
var buildRevision = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return unknownVersion
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return unknownVersion
})

func (c *Config) serviceVersion() string {
	if c.ServiceVersion != "" {
		return c.ServiceVersion
	}
	return buildRevision()
}
