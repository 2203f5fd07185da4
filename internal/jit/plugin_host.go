//go:build !windows

package jit

import (
	"fmt"
	"go/format"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/xyproto/taylorjet/internal/config"
	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/diag"
	"github.com/xyproto/taylorjet/internal/engine"
	"github.com/xyproto/taylorjet/internal/recur"
	"github.com/xyproto/taylorjet/internal/xerr"
)

// jetSymbol is the signature GenerateOpenCoded/GenerateCompact emit for
// the exported Jet function.
type jetSymbol func(slab []float64, pars []float64) error

// compileMu serializes Compile across every PluginHost in the process.
var compileMu sync.Mutex

// PluginHost compiles a Decomposition to Go source (codegen.go), builds it
// with `go build -buildmode=plugin`, and resolves the exported Jet symbol
// — the teacher's write-source/invoke-native-build idiom in run.go's
// compileAndRun, and its dynamic-symbol-resolution idiom in
// dynlib.go/cffi_manager.go, composed into one pipeline. Compilation is
// serialized process-wide (spec §5: "a process-wide JIT host ... must
// serialize compilation internally"); the resulting Jets may run
// concurrently once compiled.
type PluginHost struct {
	mu      sync.Mutex
	workDir string
	plugins []*plugin.Plugin // kept alive for the process lifetime; Go cannot unload a plugin
}

// NewPluginHost probes the platform for JIT feasibility (execpage.go) and
// prepares a scratch build directory. Construction fails fast with a
// CompilationFailure if the platform cannot host native compilation —
// callers should fall back to NewInterpretedHost.
func NewPluginHost() (*PluginHost, error) {
	target := engine.HostTarget()
	if !target.SupportsNativeJIT() {
		return nil, xerr.New(xerr.CompilationFailure, "jit: native JIT host unavailable on %s", target)
	}
	if err := probeNativeJIT(); err != nil {
		return nil, xerr.Wrap(xerr.CompilationFailure, err, "jit: native JIT host unavailable on this platform")
	}
	diag.Logf("jit", "native JIT host available on %s, native vector width %d", target, target.Arch.NativeVectorWidth())
	dir, err := os.MkdirTemp("", "taylorjet-jit-*")
	if err != nil {
		return nil, xerr.Wrap(xerr.CompilationFailure, err, "jit: cannot create scratch build directory")
	}
	return &PluginHost{workDir: dir}, nil
}

func (h *PluginHost) Compile(d *decompose.Decomposition, opts Options) (Jet, error) {
	compileMu.Lock()
	defer compileMu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()

	if opts.Order < 1 || opts.Batch < 1 {
		return nil, xerr.New(xerr.InvalidInput, "jit: order and batch must both be >= 1")
	}
	if opts.Precision != Float64 {
		// GenerateOpenCoded/GenerateCompact only ever emit float64
		// arithmetic (codegen.go); narrower/wider precisions have no
		// generated-source representation yet, so this must reject the
		// same way InterpretedHost.Compile does rather than silently
		// compiling a float64 Jet for a caller that asked for something
		// else.
		return nil, xerr.New(xerr.CompilationFailure, "jit: PluginHost only supports Float64, got %v", opts.Precision)
	}

	mode := opts.Mode
	if mode == ModeAuto {
		if d.Len() > config.CompactThreshold() && !HasSinCos(d) {
			mode = ModeCompact
		} else {
			mode = ModeOpenCoded
		}
	}

	var src string
	var err error
	switch mode {
	case ModeOpenCoded:
		src, err = GenerateOpenCoded(d, opts.Order, opts.Batch)
	case ModeCompact:
		src, err = GenerateCompact(d, opts.Order, opts.Batch)
	default:
		return nil, xerr.New(xerr.InvalidInput, "jit: unknown mode %v", mode)
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.CompilationFailure, err, "jit: code generation failed")
	}

	formatted, err := format.Source([]byte(src))
	if err != nil {
		// A malformed emission is this package's own bug, not a user
		// error — surfaced as CompilationFailure per spec §7 rather
		// than panicking, since the IR builder (spec §9) "signals
		// failure through a result type that the generator must
		// propagate" and go/format is standing in for that here.
		return nil, xerr.Wrap(xerr.CompilationFailure, err, "jit: generated source does not parse")
	}

	diag.Logf("jit", "compiling plugin mode=%v |D|=%d order=%d batch=%d", mode, d.Len(), opts.Order, opts.Batch)
	soPath, err := h.buildPlugin(formatted)
	if err != nil {
		return nil, err
	}
	p, err := plugin.Open(soPath)
	if err != nil {
		return nil, xerr.Wrap(xerr.CompilationFailure, err, "jit: plugin.Open failed")
	}
	h.plugins = append(h.plugins, p)

	sym, err := p.Lookup("Jet")
	if err != nil {
		return nil, xerr.Wrap(xerr.CompilationFailure, err, "jit: compiled plugin has no Jet symbol")
	}
	fn, ok := sym.(func([]float64, []float64) error)
	if !ok {
		return nil, xerr.New(xerr.CompilationFailure, "jit: Jet symbol has unexpected type %T", sym)
	}
	return &pluginJet{fn: jetSymbol(fn)}, nil
}

func (h *PluginHost) buildPlugin(src []byte) (string, error) {
	buildID := fmt.Sprintf("jet%d", len(h.plugins))
	dir := filepath.Join(h.workDir, buildID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerr.Wrap(xerr.CompilationFailure, err, "jit: mkdir build dir")
	}
	srcPath := filepath.Join(dir, "jet.go")
	if err := os.WriteFile(srcPath, src, 0o644); err != nil {
		return "", xerr.Wrap(xerr.CompilationFailure, err, "jit: write generated source")
	}
	goMod := "module jetplugin\n\ngo 1.25\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0o644); err != nil {
		return "", xerr.Wrap(xerr.CompilationFailure, err, "jit: write plugin go.mod")
	}

	soPath := filepath.Join(dir, "jet.so")
	cmd := exec.Command("go", "build", "-buildmode=plugin", "-o", soPath, srcPath)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", xerr.Wrap(xerr.CompilationFailure, err, "jit: go build -buildmode=plugin failed: %s", out)
	}
	return soPath, nil
}

// Close removes the scratch build directory. Loaded plugins themselves
// are never unloaded — the Go runtime offers no such operation — so any
// Jets already handed out remain valid for the process's remaining
// lifetime even after Close.
func (h *PluginHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.workDir == "" {
		return nil
	}
	err := os.RemoveAll(h.workDir)
	h.workDir = ""
	return err
}

type pluginJet struct {
	fn jetSymbol
}

func (j *pluginJet) Run(slab *recur.Slab, pars []float64) error {
	return j.fn(slab.Data, pars)
}
