package imageoptimizer

import (
	"github.com/Skryldev/image-optimizer/codec"
	"github.com/Skryldev/image-optimizer/core"
)

// Inner exposes the underlying core.Processor for advanced use.  Prefer the
// high-level API for normal usage.
func (p *Optimizer) Inner() *core.Processor { return p.inner }

// Codec exposes the encoder capabilities of this Optimizer.
func (p *Optimizer) Codec() *codec.Context { return p.codec }
