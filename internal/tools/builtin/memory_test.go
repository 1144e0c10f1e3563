package builtin

import (
	"context"
	"strings"
	"testing"

	"github.com/driftlabs/driftwood/internal/memory"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

func newRegistry(t *testing.T) (*tools.Registry, *memory.InMemManager) {
	t.Helper()
	mem := memory.NewInMemManager("agent")
	registry := tools.NewRegistry(nil)
	if err := Register(registry, mem); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry, mem
}

func TestRegisterInstallsBuiltins(t *testing.T) {
	registry, _ := newRegistry(t)
	for _, name := range []string{"memory_read", "memory_write", "memory_list", tools.NameExecuteCode, tools.NameCompactContext} {
		if !registry.Has(name) {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestMemoryWriteAndRead(t *testing.T) {
	registry, _ := newRegistry(t)
	ctx := context.Background()

	res := registry.Dispatch(ctx, "memory_write", map[string]any{
		"label":   "user-prefs",
		"content": "likes brevity",
		"tier":    "core",
	})
	if !res.Success || res.Output != "block user-prefs written" {
		t.Fatalf("write = %+v", res)
	}

	res = registry.Dispatch(ctx, "memory_read", map[string]any{"query": "brevity"})
	if !res.Success {
		t.Fatalf("read = %+v", res)
	}
	if !strings.Contains(res.Output, `"label": "user-prefs"`) ||
		!strings.Contains(res.Output, `"content": "likes brevity"`) {
		t.Errorf("read output = %q", res.Output)
	}
}

func TestMemoryReadNoMatches(t *testing.T) {
	registry, _ := newRegistry(t)
	res := registry.Dispatch(context.Background(), "memory_read", map[string]any{"query": "nothing"})
	if !res.Success || res.Output != "no matching memory blocks" {
		t.Errorf("res = %+v", res)
	}
}

func TestMemoryReadRequiresQuery(t *testing.T) {
	registry, _ := newRegistry(t)
	res := registry.Dispatch(context.Background(), "memory_read", map[string]any{})
	if res.Success || res.Error != "missing required parameter: query" {
		t.Errorf("res = %+v", res)
	}
}

func TestMemoryWriteRejectsBadTier(t *testing.T) {
	registry, _ := newRegistry(t)
	res := registry.Dispatch(context.Background(), "memory_write", map[string]any{
		"label":   "x",
		"content": "y",
		"tier":    "galactic",
	})
	if res.Success || !strings.Contains(res.Error, "must be one of core, working, archival") {
		t.Errorf("res = %+v", res)
	}
}

func TestMemoryWriteQueuesMutation(t *testing.T) {
	registry, mem := newRegistry(t)
	mem.Seed(models.MemoryBlock{
		Label: "shared", Content: "v1", Owner: "other",
		Permission: models.PermFamiliar, Tier: models.TierWorking,
	})

	res := registry.Dispatch(context.Background(), "memory_write", map[string]any{
		"label":   "shared",
		"content": "v2",
		"reason":  "refresh the note",
	})
	if !res.Success || !strings.Contains(res.Output, "write queued for review (mutation ") {
		t.Errorf("res = %+v", res)
	}
	pending, err := mem.PendingMutations(context.Background())
	if err != nil || len(pending) != 1 {
		t.Errorf("pending = %+v, err = %v", pending, err)
	}
}

func TestMemoryWriteReadonlyFails(t *testing.T) {
	registry, mem := newRegistry(t)
	mem.Seed(models.MemoryBlock{
		Label: "persona", Content: "fixed", Owner: "system",
		Permission: models.PermReadOnly, Tier: models.TierCore,
	})

	res := registry.Dispatch(context.Background(), "memory_write", map[string]any{
		"label":   "persona",
		"content": "new",
	})
	if res.Success || res.Error == "" {
		t.Errorf("res = %+v", res)
	}
}

func TestMemoryList(t *testing.T) {
	registry, mem := newRegistry(t)
	mem.Seed(models.MemoryBlock{Label: "a", Content: "1", Tier: models.TierCore})
	mem.Seed(models.MemoryBlock{Label: "b", Content: "2", Tier: models.TierArchival})

	res := registry.Dispatch(context.Background(), "memory_list", map[string]any{"tier": "archival"})
	if !res.Success || !strings.Contains(res.Output, `"label": "b"`) {
		t.Errorf("res = %+v", res)
	}
	if strings.Contains(res.Output, `"label": "a"`) {
		t.Errorf("tier filter ignored: %q", res.Output)
	}

	res = registry.Dispatch(context.Background(), "memory_list", map[string]any{"tier": "working"})
	if !res.Success || res.Output != "no memory blocks" {
		t.Errorf("res = %+v", res)
	}
}

func TestSentinelToolsNotDispatchable(t *testing.T) {
	registry, _ := newRegistry(t)
	res := registry.Dispatch(context.Background(), tools.NameExecuteCode, map[string]any{"code": "output(1)"})
	if res.Success || res.Error != "dispatched by the agent loop, not the tool registry" {
		t.Errorf("res = %+v", res)
	}
}

func TestIntParam(t *testing.T) {
	params := map[string]any{"float": float64(7), "int": 3}
	if got := intParam(params, "float", 10); got != 7 {
		t.Errorf("float = %d", got)
	}
	if got := intParam(params, "int", 10); got != 3 {
		t.Errorf("int = %d", got)
	}
	if got := intParam(params, "absent", 10); got != 10 {
		t.Errorf("fallback = %d", got)
	}
}
