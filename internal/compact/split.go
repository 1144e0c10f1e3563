package compact

import (
	"encoding/json"
	"strings"

	"github.com/driftlabs/driftwood/pkg/models"
)

// ClipArchivePrefix opens every clip-archive system message.
const ClipArchivePrefix = "[Context Summary —"

// IsClipArchive reports whether a message is a synthesized clip-archive.
func IsClipArchive(m *models.Message) bool {
	return m != nil && m.Role == models.RoleSystem && strings.HasPrefix(m.Text(), ClipArchivePrefix)
}

// splitHistory separates a prior clip-archive (when it leads the history),
// the messages to compress, and the keepRecent tail. When the remainder is
// keepRecent or fewer messages, toCompress is empty.
func splitHistory(history []*models.Message, keepRecent int) (prior *models.Message, toCompress, toKeep []*models.Message) {
	rest := history
	if len(rest) > 0 && IsClipArchive(rest[0]) {
		prior = rest[0]
		rest = rest[1:]
	}
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(rest) <= keepRecent {
		return prior, nil, rest
	}
	cut := len(rest) - keepRecent
	return prior, rest[:cut], rest[cut:]
}

// chunkMessages partitions msgs into consecutive chunks of size n; only the
// last chunk may be smaller.
func chunkMessages(msgs []*models.Message, n int) [][]*models.Message {
	if n <= 0 || len(msgs) == 0 {
		if len(msgs) == 0 {
			return nil
		}
		return [][]*models.Message{msgs}
	}
	chunks := make([][]*models.Message, 0, (len(msgs)+n-1)/n)
	for start := 0; start < len(msgs); start += n {
		end := start + n
		if end > len(msgs) {
			end = len(msgs)
		}
		chunks = append(chunks, msgs[start:end])
	}
	return chunks
}

// EstimateTokens is the runtime's token heuristic: ceil(len/4).
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// EstimateHistory estimates tokens across a message history.
func EstimateHistory(msgs []*models.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(messageChars(m))
	}
	return total
}

// messageChars renders a message body for size estimation, covering plain
// content, text blocks, tool inputs, and tool results.
func messageChars(m *models.Message) string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		switch b.Type {
		case models.BlockText:
			sb.WriteString(b.Text)
		case models.BlockToolUse:
			sb.WriteString(b.Name)
			if len(b.Input) > 0 {
				raw, err := json.Marshal(b.Input)
				if err == nil {
					sb.Write(raw)
				}
			}
		case models.BlockToolResult:
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}
