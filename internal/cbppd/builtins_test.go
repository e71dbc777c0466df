package cbppd

import (
	"strings"
	"testing"

	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/module"
)

func TestContextsBuiltinRoundTripsPoolState(t *testing.T) {
	pool := job.NewPool(4)
	b := contextsBuiltin{pool: pool}

	status, err := b.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	s, ok := status.(string)
	if !ok || !strings.Contains(s, "capacity=4") || !strings.Contains(s, "available=4") {
		t.Fatalf("status = %v, want capacity=4 available=4", status)
	}
}

func TestRegisterBuiltinsRegistersAllThree(t *testing.T) {
	pool := job.NewPool(2)
	reg := module.NewBuiltinRegistry()
	registerBuiltins(reg, pool)

	for _, name := range []string{"job_pool", "profiler", "pool_contexts"} {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("builtin %q not registered", name)
		}
	}
}
