package compact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/observability"
	"github.com/driftlabs/driftwood/pkg/models"
)

// defaultSummaryPrompt steers the summarization model when no override is
// configured.
const defaultSummaryPrompt = `You summarize agent conversation history for long-term context compression. Preserve key decisions and outcomes, important facts, user preferences, and pending tasks. Write densely; omit pleasantries.`

// summarizeDirective is the baked-in final user message of every chunk
// summarization request.
const summarizeDirective = `Update the cumulative summary with the conversation above. Reply with only the updated summary text.`

// resummarizeDirective closes a re-summarization request over older batches.
const resummarizeDirective = `Merge the summary batches above into a single condensed summary. Preserve chronology and all durable facts. Reply with only the merged summary text.`

// resummarizeSlack is how far the batch count may exceed the clip window
// before older batches are folded into a deeper summary.
const resummarizeSlack = 2

// Config tunes the compaction pipeline.
type Config struct {
	ChunkSize        int
	KeepRecent       int
	MaxSummaryTokens int
	ClipFirst        int
	ClipLast         int
	Prompt           string
	Model            string
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        20,
		KeepRecent:       5,
		MaxSummaryTokens: 1024,
		ClipFirst:        2,
		ClipLast:         2,
	}
}

// Memory is the archival block port the compactor writes batches through.
type Memory interface {
	Write(ctx context.Context, label, content string, tier models.MemoryTier, reason string) (*models.WriteOutcome, error)
	List(ctx context.Context, tier models.MemoryTier) ([]models.MemoryBlock, error)
	DeleteBlock(ctx context.Context, id string) error
}

// Store is the message persistence port the compactor mutates.
type Store interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	DeleteMessages(ctx context.Context, ids []string) error
}

// ReplaceStore is an optional store capability: delete a set of messages and
// insert one replacement in a single transactional unit.
type ReplaceStore interface {
	Replace(ctx context.Context, deleteIDs []string, insert *models.Message) error
}

// Result reports what one Compress call did. History is always usable: on
// any internal failure it is the input, unchanged.
type Result struct {
	History              []*models.Message `json:"-"`
	BatchesCreated       int               `json:"batches_created"`
	MessagesCompressed   int               `json:"messages_compressed"`
	TokensEstimateBefore int               `json:"tokens_estimate_before"`
	TokensEstimateAfter  int               `json:"tokens_estimate_after"`
}

// Compactor runs the compression pipeline: split, chunk, fold-in summarize,
// archive, delete, clip-archive, recursive re-summarization.
type Compactor struct {
	cfg      Config
	provider llm.Provider
	memory   Memory
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a compactor.
func New(cfg Config, provider llm.Provider, memory Memory, store Store, logger *slog.Logger) *Compactor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	if cfg.KeepRecent < 0 {
		cfg.KeepRecent = 0
	}
	if cfg.MaxSummaryTokens <= 0 {
		cfg.MaxSummaryTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		cfg:      cfg,
		provider: provider,
		memory:   memory,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Compress runs the pipeline over history. It never returns an error: any
// internal failure is logged and the original history comes back with zero
// stats. No irreversible mutation happens before the source-message delete.
func (c *Compactor) Compress(ctx context.Context, history []*models.Message, conversationID string) *Result {
	before := EstimateHistory(history)
	noop := &Result{History: history, TokensEstimateBefore: before, TokensEstimateAfter: before}

	prior, toCompress, toKeep := splitHistory(history, c.cfg.KeepRecent)
	if len(toCompress) == 0 {
		observability.CompactionRuns.WithLabelValues("noop").Inc()
		return noop
	}

	fail := func(stage string, err error) *Result {
		c.logger.Error("compaction failed, history unchanged",
			"conversation_id", conversationID, "stage", stage, "error", err)
		observability.CompactionRuns.WithLabelValues("failed").Inc()
		return noop
	}

	// Fold-in summarize every chunk before committing anything.
	acc := ""
	if prior != nil {
		acc = prior.Text()
	}
	var produced []SummaryBatch
	for _, chunk := range chunkMessages(toCompress, c.cfg.ChunkSize) {
		summary, err := c.summarizeChunk(ctx, acc, chunk)
		if err != nil {
			return fail("summarize", err)
		}
		acc = summary
		produced = append(produced, SummaryBatch{
			Content:      summary,
			Depth:        0,
			StartTime:    chunk[0].CreatedAt,
			EndTime:      chunk[len(chunk)-1].CreatedAt,
			MessageCount: len(chunk),
		})
	}

	// Archive the new batches.
	for i, b := range produced {
		label := BatchLabel(conversationID, b.EndTime, strconv.Itoa(i))
		if _, err := c.memory.Write(ctx, label, b.Encode(), models.TierArchival, "conversation compaction"); err != nil {
			return fail("archive", err)
		}
		observability.CompactionBatches.WithLabelValues("first_pass").Inc()
	}

	records, err := c.loadBatches(ctx, conversationID)
	if err != nil {
		return fail("load batches", err)
	}

	messagesCompressed := len(toCompress)

	// Delete source messages and insert the clip-archive. This is the
	// first irreversible step; Replace commits both in one transaction
	// when the store supports it.
	deleteIDs := make([]string, len(toCompress))
	for i, m := range toCompress {
		deleteIDs[i] = m.ID
	}
	clipMsg := c.newClipMessage(conversationID, renderClipArchive(records, messagesCompressed, c.cfg.ClipFirst, c.cfg.ClipLast))
	if prior != nil {
		deleteIDs = append(deleteIDs, prior.ID)
	}
	if err := c.replace(ctx, deleteIDs, clipMsg); err != nil {
		return fail("replace", err)
	}

	batchesCreated := len(produced)

	// Re-summarize the middle band when the batch set outgrows the clip
	// window, then swap in a rebuilt clip-archive.
	if len(records) > c.cfg.ClipFirst+c.cfg.ClipLast+resummarizeSlack {
		updated, err := c.resummarizeBatches(ctx, conversationID, records)
		if err != nil {
			c.logger.Warn("re-summarization failed, keeping first-pass batches",
				"conversation_id", conversationID, "error", err)
		} else {
			batchesCreated++
			newClip := c.newClipMessage(conversationID, renderClipArchive(updated, messagesCompressed, c.cfg.ClipFirst, c.cfg.ClipLast))
			if err := c.replace(ctx, []string{clipMsg.ID}, newClip); err != nil {
				c.logger.Warn("clip-archive rebuild failed", "conversation_id", conversationID, "error", err)
			} else {
				clipMsg = newClip
			}
		}
	}

	newHistory := append([]*models.Message{clipMsg}, toKeep...)
	observability.CompactionRuns.WithLabelValues("compacted").Inc()
	return &Result{
		History:              newHistory,
		BatchesCreated:       batchesCreated,
		MessagesCompressed:   messagesCompressed,
		TokensEstimateBefore: before,
		TokensEstimateAfter:  EstimateHistory(newHistory),
	}
}

// summarizeChunk folds one chunk into the running summary.
func (c *Compactor) summarizeChunk(ctx context.Context, acc string, chunk []*models.Message) (string, error) {
	system := c.cfg.Prompt
	if system == "" {
		system = defaultSummaryPrompt
	}

	var msgs []llm.Message
	if acc != "" {
		msgs = append(msgs, llm.Message{Role: models.RoleSystem, Content: acc})
	}
	for _, m := range chunk {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: m.Role, Content: messageChars(m)})
		case models.RoleTool:
			msgs = append(msgs, llm.Message{Role: models.RoleUser, Content: "[Tool result]: " + messageChars(m)})
		case models.RoleSystem:
			// Prior clip-archives inside the chunk are already folded in.
		}
	}
	msgs = append(msgs, llm.Message{Role: models.RoleUser, Content: summarizeDirective})

	resp, err := c.complete(ctx, system, msgs)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", fmt.Errorf("model returned empty summary")
	}
	return summary, nil
}

// resummarizeBatches folds the middle band (everything outside the clip
// window) into a single deeper batch, archives it, and deletes the sources.
// With no middle band it is a no-op.
func (c *Compactor) resummarizeBatches(ctx context.Context, conversationID string, records []batchRecord) ([]batchRecord, error) {
	if len(records) <= c.cfg.ClipFirst+c.cfg.ClipLast {
		return records, nil
	}
	middle := records[c.cfg.ClipFirst : len(records)-c.cfg.ClipLast]

	var msgs []llm.Message
	maxDepth := 0
	count := 0
	for _, b := range middle {
		if b.Depth > maxDepth {
			maxDepth = b.Depth
		}
		count += b.MessageCount
		msgs = append(msgs, llm.Message{
			Role: models.RoleSystem,
			Content: fmt.Sprintf("[Batch — depth %d, %s to %s]\n%s",
				b.Depth,
				b.StartTime.UTC().Format(time.RFC3339),
				b.EndTime.UTC().Format(time.RFC3339),
				b.Content),
		})
	}
	msgs = append(msgs, llm.Message{Role: models.RoleUser, Content: resummarizeDirective})

	system := c.cfg.Prompt
	if system == "" {
		system = defaultSummaryPrompt
	}
	resp, err := c.complete(ctx, system, msgs)
	if err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, fmt.Errorf("model returned empty merged summary")
	}

	merged := SummaryBatch{
		Content:      summary,
		Depth:        maxDepth + 1,
		StartTime:    middle[0].StartTime,
		EndTime:      middle[len(middle)-1].EndTime,
		MessageCount: count,
	}
	// The depth marker keeps the merged label off any first-pass batch
	// sharing its end time, which is about to be deleted by block ID.
	label := BatchLabel(conversationID, merged.EndTime, "d"+strconv.Itoa(merged.Depth))
	outcome, err := c.memory.Write(ctx, label, merged.Encode(), models.TierArchival, "compaction re-summarization")
	if err != nil {
		return nil, err
	}
	observability.CompactionBatches.WithLabelValues("resummarized").Inc()

	for _, b := range middle {
		if err := c.memory.DeleteBlock(ctx, b.blockID); err != nil {
			c.logger.Warn("delete superseded batch block", "block_id", b.blockID, "error", err)
		}
	}

	mergedRecord := batchRecord{SummaryBatch: merged}
	if outcome != nil && outcome.Block != nil {
		mergedRecord.blockID = outcome.Block.ID
	}

	updated := make([]batchRecord, 0, c.cfg.ClipFirst+c.cfg.ClipLast+1)
	updated = append(updated, records[:c.cfg.ClipFirst]...)
	updated = append(updated, mergedRecord)
	updated = append(updated, records[len(records)-c.cfg.ClipLast:]...)
	sortBatches(updated)
	return updated, nil
}

func (c *Compactor) complete(ctx context.Context, system string, msgs []llm.Message) (*llm.CompletionResponse, error) {
	temperature := 0.0
	return c.provider.Complete(ctx, &llm.CompletionRequest{
		Model:       c.cfg.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   c.cfg.MaxSummaryTokens,
		Temperature: &temperature,
	})
}

// loadBatches reads every archival batch block for the conversation,
// parses headers, and returns them ordered by end time.
func (c *Compactor) loadBatches(ctx context.Context, conversationID string) ([]batchRecord, error) {
	blocks, err := c.memory.List(ctx, models.TierArchival)
	if err != nil {
		return nil, err
	}
	prefix := batchLabelPrefix(conversationID)
	var records []batchRecord
	for _, block := range blocks {
		if !strings.HasPrefix(block.Label, prefix) {
			continue
		}
		batch, err := ParseBatch(block.Content)
		if err != nil {
			c.logger.Warn("skipping unparseable batch block", "label", block.Label, "error", err)
			continue
		}
		records = append(records, batchRecord{SummaryBatch: batch, blockID: block.ID})
	}
	sortBatches(records)
	return records, nil
}

func sortBatches(records []batchRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EndTime.Before(records[j].EndTime)
	})
}

func (c *Compactor) newClipMessage(conversationID, content string) *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleSystem,
		Content:        content,
		CreatedAt:      c.now(),
	}
}

// replace removes deleteIDs and inserts the replacement, atomically when the
// store supports it.
func (c *Compactor) replace(ctx context.Context, deleteIDs []string, insert *models.Message) error {
	if rs, ok := c.store.(ReplaceStore); ok {
		return rs.Replace(ctx, deleteIDs, insert)
	}
	if err := c.store.DeleteMessages(ctx, deleteIDs); err != nil {
		return err
	}
	return c.store.AppendMessage(ctx, insert)
}
