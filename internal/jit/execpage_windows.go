//go:build windows

package jit

import "fmt"

// probeNativeJIT always fails on Windows: -buildmode=plugin and the
// mmap/mprotect probe in execpage.go are both POSIX-only (see
// engine.Target.SupportsNativeJIT). Callers fall back to InterpretedHost.
func probeNativeJIT() error {
	return fmt.Errorf("jit: native JIT host is unavailable on windows")
}
