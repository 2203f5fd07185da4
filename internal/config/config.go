// Package config resolves the small set of process-wide defaults that the
// façade also exposes as explicit Options. Environment variables only ever
// supply a default; an explicit Option passed to taylorjet.New always wins.
package config

import "github.com/xyproto/env/v2"

const (
	envCompactThreshold = "TAYLORJET_COMPACT_THRESHOLD"
	envVerbose          = "TAYLORJET_VERBOSE"
)

// DefaultCompactThreshold is the decomposition size (|D|) above which
// internal/jit switches to compact emission automatically, absent an
// explicit CompactMode option. See spec §4.3.
const DefaultCompactThreshold = 4096

// CompactThreshold returns the configured compact-mode cutoff, falling back
// to DefaultCompactThreshold when TAYLORJET_COMPACT_THRESHOLD is unset.
func CompactThreshold() int {
	return env.Int(envCompactThreshold, DefaultCompactThreshold)
}

// Verbose reports whether TAYLORJET_VERBOSE asked for diagnostic logging.
// taylorjet.New enables logging when either this or Options.Verbose is set.
func Verbose() bool {
	return env.Bool(envVerbose)
}
