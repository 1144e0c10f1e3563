package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// bridgePreamble is the runtime injected ahead of user code. It exposes
// output(), debug(), and __callTool__() and pumps tool results back from
// stdin, routing by call_id.
const bridgePreamble = `// driftwood sandbox bridge
const __pending = new Map();
let __callSeq = 0;
const __encoder = new TextEncoder();

function __emit(obj) {
  Deno.stdout.writeSync(__encoder.encode(JSON.stringify(obj) + "\n"));
}

function output(data) {
  __emit({ type: "__output__", data: typeof data === "string" ? data : JSON.stringify(data) });
}

function debug(message) {
  __emit({ type: "__debug__", message: String(message) });
}

function __callTool__(name, params) {
  const call_id = "call_" + (++__callSeq) + "_" + Math.random().toString(36).slice(2);
  return new Promise((resolve, reject) => {
    __pending.set(call_id, { resolve, reject });
    __emit({ type: "__tool_call__", name, params, call_id });
  });
}

(async () => {
  const decoder = new TextDecoder();
  let buf = "";
  for await (const chunk of Deno.stdin.readable) {
    buf += decoder.decode(chunk, { stream: true });
    let idx;
    while ((idx = buf.indexOf("\n")) >= 0) {
      const line = buf.slice(0, idx);
      buf = buf.slice(idx + 1);
      if (!line.trim()) continue;
      let msg;
      try { msg = JSON.parse(line); } catch { continue; }
      const pending = __pending.get(msg.call_id);
      if (!pending) continue;
      __pending.delete(msg.call_id);
      if (msg.type === "__tool_result__") {
        pending.resolve(msg.result);
      } else if (msg.type === "__tool_error__") {
        pending.reject(new Error(msg.error));
      }
    }
  }
})();

console.log = (...args) => {
  output(args.map((a) => (typeof a === "string" ? a : JSON.stringify(a))).join(" "));
};
`

// composeScript assembles the script delivered to the subprocess:
// bridge preamble, generated tool stubs, credential constants, user code.
func composeScript(stubs string, execCtx *Context, code string) string {
	var sb strings.Builder
	sb.WriteString(bridgePreamble)
	sb.WriteString("\n")
	if stubs != "" {
		sb.WriteString(stubs)
		if !strings.HasSuffix(stubs, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(credentialConsts(execCtx))
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteString("\n")
	}
	// The stdin pump above would otherwise keep the event loop alive
	// forever; user code runs top-level, so exit once it completes.
	sb.WriteString("Deno.exit(0);\n")
	return sb.String()
}

// credentialConsts renders BSKY_* constants when Bluesky context is set.
// Values are JSON-escaped.
func credentialConsts(execCtx *Context) string {
	if execCtx == nil || execCtx.Bluesky == nil {
		return ""
	}
	bs := execCtx.Bluesky
	var sb strings.Builder
	writeConst(&sb, "BSKY_HANDLE", bs.Handle)
	writeConst(&sb, "BSKY_PASSWORD", bs.Password)
	writeConst(&sb, "BSKY_PDS_URL", bs.PDSURL)
	writeConst(&sb, "BSKY_DID", bs.DID)
	writeConst(&sb, "BSKY_SERVICE", bs.Service)
	sb.WriteString("\n")
	return sb.String()
}

func writeConst(sb *strings.Builder, name, value string) {
	escaped, _ := json.Marshal(value)
	fmt.Fprintf(sb, "const %s = %s;\n", name, escaped)
}
