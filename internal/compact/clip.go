package compact

import (
	"fmt"
	"strings"
	"time"
)

// renderClipArchive builds the system message body showing the earliest and
// most recent summary batches. When the batch set exceeds the clip window,
// the middle band collapses to an omission marker pointing at memory_read.
func renderClipArchive(batches []batchRecord, messagesCompressed, clipFirst, clipLast int) string {
	maxDepth := 0
	for _, b := range batches {
		if b.Depth > maxDepth {
			maxDepth = b.Depth
		}
	}
	cycles := maxDepth + 1

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Context Summary — %d messages compressed across %d compaction cycles]\n",
		messagesCompressed, cycles)

	total := len(batches)
	earliestEnd := clipFirst
	recentStart := total - clipLast
	omitted := 0
	if total > clipFirst+clipLast {
		omitted = total - clipFirst - clipLast
	} else {
		// Everything fits: front-load the earliest section.
		if earliestEnd > total {
			earliestEnd = total
		}
		recentStart = earliestEnd
	}

	sb.WriteString("\n## Earliest context\n")
	for i := 0; i < earliestEnd && i < total; i++ {
		writeBatch(&sb, i, batches[i])
	}

	if omitted > 0 {
		fmt.Fprintf(&sb, "\n[... %d earlier summaries omitted, searchable via memory_read ...]\n", omitted)
	}

	sb.WriteString("\n## Recent context\n")
	for i := recentStart; i < total; i++ {
		if i < earliestEnd {
			continue
		}
		writeBatch(&sb, i, batches[i])
	}

	return strings.TrimRight(sb.String(), "\n")
}

func writeBatch(sb *strings.Builder, index int, b batchRecord) {
	fmt.Fprintf(sb, "\n[Batch %d — depth %d, %s to %s]\n",
		index+1,
		b.Depth,
		b.StartTime.UTC().Format(time.RFC3339),
		b.EndTime.UTC().Format(time.RFC3339))
	sb.WriteString(b.Content)
	sb.WriteString("\n")
}
