//go:build !windows

package jit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// execPage is an mmap'd, mprotect'd page, adapted from the teacher's
// hotreload_unix.go CodePage/HotReloadManager (which backed hot-swappable
// machine code with a raw syscall.Syscall6(SYS_MMAP...) call) onto the
// typed golang.org/x/sys/unix wrapper. PluginHost does not JIT machine
// code directly — spec §1 keeps the native-code assembler out of this
// core's scope — so execPage's only job here is a feasibility probe:
// allocating, marking executable, and releasing one page at host
// construction confirms the target actually permits W^X-style
// RW->RX transitions before we commit to spawning `go build
// -buildmode=plugin`, which would otherwise fail much later and harder to
// diagnose inside a sandboxed or locked-down environment.
type execPage struct {
	data []byte
}

func newExecPage(size int) (*execPage, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap probe failed: %w", err)
	}
	return &execPage{data: data}, nil
}

func (p *execPage) markExecutable() error {
	if err := unix.Mprotect(p.data, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect(PROT_EXEC) probe failed: %w", err)
	}
	return nil
}

func (p *execPage) release() error {
	return unix.Munmap(p.data)
}

// probeNativeJIT allocates a minimal page, flips it RW -> RX -> gone, and
// reports whether the host platform allows it. A failure here means
// PluginHost should not be constructed — the caller should fall back to
// InterpretedHost instead.
func probeNativeJIT() error {
	const pageSize = 4096
	p, err := newExecPage(pageSize)
	if err != nil {
		return err
	}
	if err := p.markExecutable(); err != nil {
		_ = p.release()
		return err
	}
	return p.release()
}
