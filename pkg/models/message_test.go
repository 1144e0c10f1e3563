package models

import "testing"

func TestMessageText(t *testing.T) {
	plain := &Message{Content: "hello"}
	if plain.Text() != "hello" {
		t.Errorf("plain text = %q", plain.Text())
	}

	structured := &Message{
		Content: "ignored when blocks are set",
		Blocks: []ContentBlock{
			TextBlock("part one "),
			ToolUseBlock("t1", "echo", nil),
			TextBlock("part two"),
		},
	}
	if structured.Text() != "part one part two" {
		t.Errorf("structured text = %q", structured.Text())
	}
}

func TestMessageToolUses(t *testing.T) {
	msg := &Message{Blocks: []ContentBlock{
		TextBlock("thinking"),
		ToolUseBlock("t1", "echo", map[string]any{"message": "a"}),
		ToolResultBlock("t0", "earlier result", false),
		ToolUseBlock("t2", "fetch", nil),
	}}

	uses := msg.ToolUses()
	if len(uses) != 2 {
		t.Fatalf("uses = %+v", uses)
	}
	if uses[0].ID != "t1" || uses[1].ID != "t2" {
		t.Errorf("order wrong: %+v", uses)
	}

	if got := (&Message{Content: "no blocks"}).ToolUses(); len(got) != 0 {
		t.Errorf("uses on plain message = %+v", got)
	}
}

func TestToolResultHelpers(t *testing.T) {
	ok := OkResult("fine")
	if !ok.Success || ok.Output != "fine" || ok.Error != "" {
		t.Errorf("ok = %+v", ok)
	}
	bad := ErrResult("unknown tool: %s", "missing")
	if bad.Success || bad.Error != "unknown tool: missing" {
		t.Errorf("bad = %+v", bad)
	}
}
