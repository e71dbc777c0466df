package cbppd

import (
	"encoding/binary"
	"fmt"

	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/module"
	"github.com/arcflux/cbppcore/internal/profiler"
)

// poolBuiltin reports the job pool's configured concurrency.
type poolBuiltin struct {
	pool *job.Pool
}

func (poolBuiltin) Name() string { return "job_pool" }

func (b poolBuiltin) Status() (any, error) {
	return fmt.Sprintf("capacity=%d available=%d", b.pool.Capacity(), b.pool.Available()), nil
}

func (b poolBuiltin) Actions() map[string]module.Action {
	return map[string]module.Action{
		"capacity": func(map[string]string) (any, error) {
			return b.pool.Capacity(), nil
		},
	}
}

// profilerBuiltin exposes profiler.Reset as an admin action, since the
// profile CSV endpoint is read-only and the accumulator otherwise only
// grows.
type profilerBuiltin struct{}

func (profilerBuiltin) Name() string { return "profiler" }

func (profilerBuiltin) Status() (any, error) {
	return fmt.Sprintf("samples=%d", len(profiler.Snapshot())), nil
}

func (profilerBuiltin) Actions() map[string]module.Action {
	return map[string]module.Action{
		"reset": func(map[string]string) (any, error) {
			profiler.Reset()
			return "ok", nil
		},
	}
}

// contextsFieldPoolCapacity and contextsFieldPoolAvailable are the
// field ids contextsBuiltin hangs off the job pool's own Contexts bag.
const (
	contextsFieldPoolCapacity  uint16 = 1
	contextsFieldPoolAvailable uint16 = 2
)

// contextsBuiltin reports the job pool's live state as a module.Contexts
// value: it builds a TLVContexts the same way a loaded module's init
// function would, encodes it to the wire shape, and decodes it back, so
// the admin surface always sees the pool's state through the same
// codec a real module's Contexts would travel through.
type contextsBuiltin struct {
	pool *job.Pool
}

func (contextsBuiltin) Name() string { return "pool_contexts" }

func (b contextsBuiltin) Status() (any, error) {
	contexts := b.buildContexts()
	encoded := module.EncodeTLVContexts(contexts)
	decoded, err := module.DecodeTLVContexts(encoded)
	if err != nil {
		return nil, err
	}

	capField, ok := decoded.Get(contextsFieldPoolCapacity)
	if !ok {
		return nil, fmt.Errorf("pool_contexts: missing capacity field")
	}
	if err := module.MustType(capField, module.TypeU64); err != nil {
		return nil, err
	}
	availField, ok := decoded.Get(contextsFieldPoolAvailable)
	if !ok {
		return nil, fmt.Errorf("pool_contexts: missing available field")
	}
	if err := module.MustType(availField, module.TypeU64); err != nil {
		return nil, err
	}

	return fmt.Sprintf("capacity=%d available=%d",
		binary.BigEndian.Uint64(capField.Value), binary.BigEndian.Uint64(availField.Value)), nil
}

func (contextsBuiltin) Actions() map[string]module.Action { return nil }

func (b contextsBuiltin) buildContexts() module.TLVContexts {
	var capBytes, availBytes [8]byte
	binary.BigEndian.PutUint64(capBytes[:], uint64(b.pool.Capacity()))
	binary.BigEndian.PutUint64(availBytes[:], uint64(b.pool.Available()))
	return module.TLVContexts{
		{ID: contextsFieldPoolCapacity, Type: module.TypeU64, Value: capBytes[:]},
		{ID: contextsFieldPoolAvailable, Type: module.TypeU64, Value: availBytes[:]},
	}
}

func registerBuiltins(reg *module.BuiltinRegistry, pool *job.Pool) {
	reg.Register(poolBuiltin{pool: pool})
	reg.Register(profilerBuiltin{})
	reg.Register(contextsBuiltin{pool: pool})
}
