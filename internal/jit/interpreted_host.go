package jit

import (
	"sync"

	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/diag"
	"github.com/xyproto/taylorjet/internal/recur"
	"github.com/xyproto/taylorjet/internal/xerr"
)

// InterpretedHost compiles a Decomposition into a Jet that walks it with
// package recur's Evaluator directly — no native code is generated. It is
// the fallback Host (taylorjet.New tries PluginHost first unless
// ForceInterpreted is set): it needs nothing beyond the Go runtime already
// running this process, which makes it the only host usable from `go
// test` without shelling out to a second `go build`. Compile here does no
// actual work beyond validating Options; all the cost is in Jet.Run.
type InterpretedHost struct {
	mu sync.Mutex // serializes Compile, per spec §5; Run is the caller's responsibility to keep exclusive
}

// NewInterpretedHost returns a ready-to-use InterpretedHost.
func NewInterpretedHost() *InterpretedHost { return &InterpretedHost{} }

func (h *InterpretedHost) Compile(d *decompose.Decomposition, opts Options) (Jet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if opts.Order < 1 {
		return nil, xerr.New(xerr.InvalidInput, "jit: order must be >= 1, got %d", opts.Order)
	}
	if opts.Batch < 1 {
		return nil, xerr.New(xerr.InvalidInput, "jit: batch must be >= 1, got %d", opts.Batch)
	}
	if opts.Precision != Float64 {
		// The interpreted host operates on Go float64 throughout; neither
		// host materializes narrower/wider precisions yet (see jit.go's
		// Precision doc comment).
		return nil, xerr.New(xerr.CompilationFailure, "jit: InterpretedHost only supports Float64, got %v", opts.Precision)
	}
	diag.Logf("jit", "interpreted host compiled decomposition |D|=%d order=%d batch=%d mode=%v", d.Len(), opts.Order, opts.Batch, opts.Mode)
	return &interpretedJet{d: d, opts: opts}, nil
}

func (h *InterpretedHost) Close() error { return nil }

type interpretedJet struct {
	d    *decompose.Decomposition
	opts Options
}

func (j *interpretedJet) Run(slab *recur.Slab, pars []float64) error {
	ev := recur.NewEvaluator(j.d, slab, pars, j.opts.ParamKind, j.opts.Order)
	if err := ev.EvaluateOrder0(); err != nil {
		return err
	}
	for k := 1; k <= j.opts.Order; k++ {
		if err := ev.EvaluateOrder(k); err != nil {
			return err
		}
	}
	return nil
}
