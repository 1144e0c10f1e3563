package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/driftlabs/driftwood/pkg/models"
)

// Wire message types, newline-delimited JSON over the child's stdio.
const (
	msgOutput     = "__output__"
	msgDebug      = "__debug__"
	msgToolCall   = "__tool_call__"
	msgToolResult = "__tool_result__"
	msgToolError  = "__tool_error__"
)

// childMsg is a message emitted by the sandbox on stdout.
type childMsg struct {
	Type    string         `json:"type"`
	Data    string         `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Name    string         `json:"name,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	CallID  string         `json:"call_id,omitempty"`
}

// hostMsg is a message written by the host to the sandbox's stdin.
type hostMsg struct {
	Type   string             `json:"type"`
	CallID string             `json:"call_id"`
	Result *models.ToolResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// session owns the host side of one execution's IPC: it reads child stdout,
// accumulates output against the quota, and routes tool calls. Tool calls
// are dispatched concurrently, keyed by call_id, so results may resolve out
// of order; stdin writes are serialized.
type session struct {
	ctx      context.Context
	dispatch Dispatcher
	stdin    io.Writer
	kill     context.CancelFunc
	logger   *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup

	output      strings.Builder
	outputLimit int
	exceeded    bool

	toolCalls    int
	maxToolCalls int
}

func newSession(ctx context.Context, dispatch Dispatcher, stdin io.Writer, kill context.CancelFunc, outputLimit, maxToolCalls int, logger *slog.Logger) *session {
	return &session{
		ctx:          ctx,
		dispatch:     dispatch,
		stdin:        stdin,
		kill:         kill,
		logger:       logger,
		outputLimit:  outputLimit,
		maxToolCalls: maxToolCalls,
	}
}

// run consumes child stdout until EOF, then waits for in-flight dispatches.
func (s *session) run(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		s.handleLine(sc.Bytes())
		if s.exceeded {
			break
		}
	}
	s.wg.Wait()
}

func (s *session) handleLine(line []byte) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return
	}

	var msg childMsg
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil || msg.Type == "" {
		// Raw writes that bypassed the bridge still count as output.
		s.appendOutput(trimmed)
		return
	}

	switch msg.Type {
	case msgOutput:
		s.appendOutput(msg.Data)
	case msgDebug:
		s.logger.Debug("sandbox", "message", msg.Message)
	case msgToolCall:
		s.handleToolCall(msg)
	default:
		s.appendOutput(trimmed)
	}
}

func (s *session) handleToolCall(msg childMsg) {
	s.toolCalls++
	if s.toolCalls > s.maxToolCalls {
		s.writeMsg(hostMsg{Type: msgToolError, CallID: msg.CallID, Error: "tool call quota exceeded"})
		return
	}

	// Reserved names never reach the registry from the sandbox.
	if msg.Name == "" || isReservedName(msg.Name) {
		res := models.ErrResult("tool not available from sandbox: %s", msg.Name)
		s.writeMsg(hostMsg{Type: msgToolResult, CallID: msg.CallID, Result: &res})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.dispatch.Dispatch(s.ctx, msg.Name, msg.Params)
		s.writeMsg(hostMsg{Type: msgToolResult, CallID: msg.CallID, Result: &res})
	}()
}

func isReservedName(name string) bool {
	return name == "execute_code" || name == "compact_context"
}

func (s *session) writeMsg(msg hostMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("marshal ipc message", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		s.logger.Debug("write to sandbox stdin", "error", err)
	}
}

// appendOutput adds one line of child output, enforcing the size quota.
// Crossing the quota kills the child.
func (s *session) appendOutput(data string) {
	add := len(data)
	if !strings.HasSuffix(data, "\n") {
		add++
	}
	if s.output.Len()+add > s.outputLimit {
		s.exceeded = true
		s.kill()
		return
	}
	s.output.WriteString(data)
	if !strings.HasSuffix(data, "\n") {
		s.output.WriteByte('\n')
	}
}

func (s *session) outputExceeded() bool { return s.exceeded }

func (s *session) toolCallCount() int { return s.toolCalls }

// collectOutput returns the accumulated output with child stderr appended,
// so permission denials surface verbatim.
func (s *session) collectOutput(stderr string) string {
	out := s.output.String()
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += stderr
	}
	return out
}
