package simulation

import (
	"slices"
	"sync/atomic"

	"github.com/san-kum/odectl/internal/native"
)

type vectorKind int

const (
	parameterVector vectorKind = iota
	speciesVector
)

type vector struct {
	kind vectorKind
	id   native.VectorHandle
}

// handle is the single owner of one native simulation and the info vectors
// created for it. It must not reference the Simulation that owns it, so the
// runtime cleanup can release it once the Simulation is unreachable.
type handle struct {
	eng      native.Engine
	id       native.SimHandle
	vectors  []vector
	released atomic.Bool
}

func (h *handle) closed() bool {
	return h.released.Load()
}

func (h *handle) newVector(kind vectorKind) (native.VectorHandle, native.Status) {
	var (
		v  native.VectorHandle
		st native.Status
	)
	switch kind {
	case parameterVector:
		v, st = h.eng.CreateParameterInfoVector()
	default:
		v, st = h.eng.CreateSpeciesInfoVector()
	}
	if st.OK {
		h.vectors = append(h.vectors, vector{kind: kind, id: v})
	}
	return v, st
}

// dropVectors disposes every info vector.
func (h *handle) dropVectors() {
	for _, v := range h.vectors {
		h.disposeVector(v)
	}
	h.vectors = nil
}

// supersede disposes the vectors of kind that are not in keep. Proxies
// fetched into a disposed vector fail their next check.
func (h *handle) supersede(kind vectorKind, keep ...native.VectorHandle) {
	kept := h.vectors[:0]
	for _, v := range h.vectors {
		if v.kind != kind || slices.Contains(keep, v.id) {
			kept = append(kept, v)
			continue
		}
		h.disposeVector(v)
	}
	h.vectors = kept
}

// discard disposes one vector created by a fetch that failed.
func (h *handle) discard(kind vectorKind, id native.VectorHandle) {
	for i, v := range h.vectors {
		if v.kind == kind && v.id == id {
			h.disposeVector(v)
			h.vectors = slices.Delete(h.vectors, i, i+1)
			return
		}
	}
}

func (h *handle) live(kind vectorKind, id native.VectorHandle) bool {
	for _, v := range h.vectors {
		if v.kind == kind && v.id == id {
			return true
		}
	}
	return false
}

func (h *handle) disposeVector(v vector) {
	switch v.kind {
	case parameterVector:
		h.eng.DisposeParameterInfoVector(v.id)
	default:
		h.eng.DisposeSpeciesInfoVector(v.id)
	}
}

// release frees the native resources. Only the first call has an effect.
func (h *handle) release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	for _, v := range h.vectors {
		h.disposeVector(v)
	}
	h.vectors = nil
	h.eng.DisposeSimulation(h.id)
	return true
}
