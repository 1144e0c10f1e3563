package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driftlabs/driftwood/pkg/models"
)

// seeder is the test-setup capability both managers share.
type seeder interface {
	Manager
	Seed(block models.MemoryBlock)
}

// sqliteSeeder installs blocks through SQL so permission and ownership
// fields land exactly as given.
type sqliteSeeder struct {
	*SQLiteManager
}

func (s sqliteSeeder) Seed(block models.MemoryBlock) {
	if block.ID == "" {
		block.ID = "seed-" + block.Label
	}
	if block.Permission == "" {
		block.Permission = models.PermReadWrite
	}
	if block.Tier == "" {
		block.Tier = models.TierCore
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO memory_blocks (id, owner, tier, label, content, permission, pinned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		block.ID, block.Owner, string(block.Tier), block.Label, block.Content, string(block.Permission), now, now)
	if err != nil {
		panic(err)
	}
}

func openManagers(t *testing.T) map[string]seeder {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "memory.db"), "agent")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]seeder{
		"sqlite": sqliteSeeder{sqlite},
		"inmem":  NewInMemManager("agent"),
	}
}

func TestWriteCreatesBlock(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			outcome, err := mgr.Write(context.Background(), "user-prefs", "likes brevity", models.TierCore, "")
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if !outcome.Applied || outcome.Block == nil {
				t.Fatalf("outcome = %+v", outcome)
			}
			if outcome.Block.Owner != "agent" || outcome.Block.Permission != models.PermReadWrite {
				t.Errorf("block = %+v", outcome.Block)
			}

			blocks, err := mgr.List(context.Background(), models.TierCore)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(blocks) != 1 || blocks[0].Label != "user-prefs" {
				t.Errorf("blocks = %+v", blocks)
			}
		})
	}
}

func TestWriteUpdatesOwnedBlock(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := mgr.Write(context.Background(), "notes", "v1", models.TierWorking, ""); err != nil {
				t.Fatalf("create: %v", err)
			}
			outcome, err := mgr.Write(context.Background(), "notes", "v2", models.TierWorking, "")
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if !outcome.Applied || outcome.Block.Content != "v2" {
				t.Errorf("outcome = %+v", outcome)
			}
		})
	}
}

func TestWriteReadonlyBlockRefused(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			mgr.Seed(models.MemoryBlock{Label: "persona", Content: "fixed", Owner: "system", Permission: models.PermReadOnly, Tier: models.TierCore})

			outcome, err := mgr.Write(context.Background(), "persona", "new", models.TierCore, "")
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if outcome.Applied || outcome.Err == "" {
				t.Errorf("outcome = %+v", outcome)
			}
		})
	}
}

func TestWriteFamiliarBlockQueuesMutation(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			mgr.Seed(models.MemoryBlock{Label: "shared", Content: "v1", Owner: "other", Permission: models.PermFamiliar, Tier: models.TierWorking})

			outcome, err := mgr.Write(context.Background(), "shared", "v2", models.TierWorking, "update shared note")
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if outcome.Applied || outcome.Mutation == nil {
				t.Fatalf("outcome = %+v", outcome)
			}

			pending, err := mgr.PendingMutations(context.Background())
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			if len(pending) != 1 || pending[0].Content != "v2" {
				t.Fatalf("pending = %+v", pending)
			}

			if err := mgr.ApproveMutation(context.Background(), pending[0].ID); err != nil {
				t.Fatalf("approve: %v", err)
			}
			blocks, err := mgr.List(context.Background(), models.TierWorking)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(blocks) != 1 || blocks[0].Content != "v2" {
				t.Errorf("blocks = %+v", blocks)
			}

			pending, _ = mgr.PendingMutations(context.Background())
			if len(pending) != 0 {
				t.Errorf("mutation not cleared: %+v", pending)
			}
		})
	}
}

func TestRejectMutation(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			mgr.Seed(models.MemoryBlock{Label: "shared", Content: "v1", Owner: "other", Permission: models.PermFamiliar, Tier: models.TierWorking})
			if _, err := mgr.Write(context.Background(), "shared", "v2", models.TierWorking, ""); err != nil {
				t.Fatalf("write: %v", err)
			}

			pending, _ := mgr.PendingMutations(context.Background())
			if len(pending) != 1 {
				t.Fatalf("pending = %+v", pending)
			}
			if err := mgr.RejectMutation(context.Background(), pending[0].ID); err != nil {
				t.Fatalf("reject: %v", err)
			}

			blocks, _ := mgr.List(context.Background(), models.TierWorking)
			if len(blocks) != 1 || blocks[0].Content != "v1" {
				t.Errorf("rejected write applied: %+v", blocks)
			}
			if err := mgr.RejectMutation(context.Background(), "missing"); !errors.Is(err, ErrBlockNotFound) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestWriteOtherOwnersBlockRefused(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			mgr.Seed(models.MemoryBlock{Label: "theirs", Content: "v1", Owner: "other", Permission: models.PermReadWrite, Tier: models.TierWorking})

			outcome, err := mgr.Write(context.Background(), "theirs", "v2", models.TierWorking, "")
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if outcome.Applied || !strings.Contains(outcome.Err, "owned by other") {
				t.Errorf("outcome = %+v", outcome)
			}
		})
	}
}

func TestReadSearchesLabelAndContent(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			mgr.Seed(models.MemoryBlock{Label: "compaction-batch-conv-1", Content: "deploy summary", Tier: models.TierArchival})
			mgr.Seed(models.MemoryBlock{Label: "other", Content: "mentions compaction-batch too", Tier: models.TierArchival})
			mgr.Seed(models.MemoryBlock{Label: "unrelated", Content: "nothing here", Tier: models.TierCore})

			hits, err := mgr.Read(context.Background(), "compaction-batch", 10, models.TierArchival)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(hits) != 2 {
				t.Errorf("hits = %+v", hits)
			}

			hits, err = mgr.Read(context.Background(), "compaction-batch", 1, "")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(hits) != 1 {
				t.Errorf("limit ignored: %+v", hits)
			}
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			mgr.Seed(models.MemoryBlock{Label: "identity", Content: "You handle ops questions.", Tier: models.TierCore})
			mgr.Seed(models.MemoryBlock{Label: "scratch", Content: "working note", Tier: models.TierWorking})

			prompt, err := mgr.BuildSystemPrompt(context.Background(), "You are a helpful agent.")
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if !strings.HasPrefix(prompt, "You are a helpful agent.") {
				t.Errorf("prompt = %q", prompt)
			}
			if !strings.Contains(prompt, `<memory_block label="identity">`) {
				t.Errorf("core block missing: %q", prompt)
			}
			if strings.Contains(prompt, "working note") {
				t.Errorf("working block leaked into system prompt: %q", prompt)
			}
		})
	}
}

func TestDeleteBlock(t *testing.T) {
	for name, mgr := range openManagers(t) {
		t.Run(name, func(t *testing.T) {
			outcome, err := mgr.Write(context.Background(), "ephemeral", "x", models.TierArchival, "")
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := mgr.DeleteBlock(context.Background(), outcome.Block.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := mgr.DeleteBlock(context.Background(), outcome.Block.ID); !errors.Is(err, ErrBlockNotFound) {
				t.Errorf("second delete err = %v", err)
			}
		})
	}
}
