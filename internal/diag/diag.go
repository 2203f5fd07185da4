// Package diag is the verbose-diagnostics sink shared by the decomposer,
// the JIT host and the stepper. It mirrors the teacher's package-level
// VerboseMode switch (see vaddpd.go, compilation_pipeline.go): cheap to
// check, write-only to stderr, no buffering or structured fields.
package diag

import (
	"fmt"
	"os"
	"sync/atomic"
)

var enabled atomic.Bool

// SetEnabled turns diagnostic logging on or off for the process.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Enabled reports whether diagnostic logging is currently on.
func Enabled() bool {
	return enabled.Load()
}

// Logf writes a diagnostic line to stderr, tagged with the given component,
// when logging is enabled. It is a no-op otherwise.
func Logf(component, format string, args ...any) {
	if !enabled.Load() {
		return
	}
	fmt.Fprintf(os.Stderr, "taylorjet[%s]: %s\n", component, fmt.Sprintf(format, args...))
}
