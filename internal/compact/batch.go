// Package compact implements the conversation compactor: it summarizes,
// archives, and clips old messages while keeping a searchable record, with
// re-summarization at increasing depths.
package compact

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SummaryBatch is the archival artifact of one compaction pass. Depth 0
// batches summarize raw messages; depth N+1 batches summarize depth-≤N
// batches. MessageCount is the original message count represented, summed
// transitively through re-summarization.
type SummaryBatch struct {
	Content      string
	Depth        int
	StartTime    time.Time
	EndTime      time.Time
	MessageCount int
}

// batchRecord pairs a parsed batch with the archival block that holds it.
type batchRecord struct {
	SummaryBatch
	blockID string
}

// BatchLabel is the archival block label for a batch:
// compaction-batch-{conversationId}-{endTime-ISO}-{discriminator}.
// Memory writes upsert by label, and batches produced in one Compress call
// can share an end time down to the nanosecond, so the timestamp alone is
// not a unique key. The discriminator (chunk index for first-pass batches,
// depth marker for merged ones) keeps same-instant batches from
// overwriting each other.
func BatchLabel(conversationID string, endTime time.Time, discriminator string) string {
	return batchLabelPrefix(conversationID) + endTime.UTC().Format(time.RFC3339Nano) + "-" + discriminator
}

func batchLabelPrefix(conversationID string) string {
	return "compaction-batch-" + conversationID + "-"
}

// Encode renders the batch with its metadata header so it can be
// reconstructed from the block content alone:
// [depth:N|start:ISO|end:ISO|count:M] on the first line, then the body.
func (b SummaryBatch) Encode() string {
	return fmt.Sprintf("[depth:%d|start:%s|end:%s|count:%d]\n%s",
		b.Depth,
		b.StartTime.UTC().Format(time.RFC3339),
		b.EndTime.UTC().Format(time.RFC3339),
		b.MessageCount,
		b.Content)
}

// ParseBatch reconstructs a batch from encoded block content.
func ParseBatch(encoded string) (SummaryBatch, error) {
	header, body, found := strings.Cut(encoded, "\n")
	if !found {
		header = encoded
		body = ""
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "[") || !strings.HasSuffix(header, "]") {
		return SummaryBatch{}, fmt.Errorf("malformed batch header: %q", header)
	}

	batch := SummaryBatch{Content: body}
	for _, field := range strings.Split(header[1:len(header)-1], "|") {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			return SummaryBatch{}, fmt.Errorf("malformed batch header field: %q", field)
		}
		// Timestamps contain ':'; only the first cut is the key separator.
		switch key {
		case "depth":
			d, err := strconv.Atoi(value)
			if err != nil || d < 0 {
				return SummaryBatch{}, fmt.Errorf("invalid batch depth: %q", value)
			}
			batch.Depth = d
		case "start":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return SummaryBatch{}, fmt.Errorf("invalid batch start: %q", value)
			}
			batch.StartTime = t
		case "end":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return SummaryBatch{}, fmt.Errorf("invalid batch end: %q", value)
			}
			batch.EndTime = t
		case "count":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return SummaryBatch{}, fmt.Errorf("invalid batch count: %q", value)
			}
			batch.MessageCount = n
		default:
			return SummaryBatch{}, fmt.Errorf("unknown batch header field: %q", key)
		}
	}
	return batch, nil
}
