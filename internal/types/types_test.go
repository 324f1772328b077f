package types

import (
	"encoding/json"
	"testing"
)

func TestBuildMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "again"},
	}

	got := BuildMessages("be brief", msgs)
	if len(got) != 4 {
		t.Fatalf("len=%d, want 4", len(got))
	}
	if got[0].Role != RoleSystem || got[0].Content != "be brief" {
		t.Fatalf("first message = %+v, want system prompt", got[0])
	}
	for i, m := range msgs {
		if got[i+1] != m {
			t.Fatalf("message %d = %+v, want %+v", i+1, got[i+1], m)
		}
	}

	got = BuildMessages("", msgs)
	if len(got) != 3 || got[0] != msgs[0] {
		t.Fatalf("without system prompt got %+v", got)
	}

	if got := BuildMessages("", nil); len(got) != 0 {
		t.Fatalf("empty input produced %+v", got)
	}
}

func TestInboundFrameDecode(t *testing.T) {
	raw := `{"type":"chat","model":"m","messages":[{"role":"user","content":"hi"}],"system_prompt":"sys"}`
	var f InboundFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != FrameChat || f.Model != "m" || f.SystemPrompt != "sys" {
		t.Fatalf("decoded frame = %+v", f)
	}
	if len(f.Messages) != 1 || f.Messages[0].Content != "hi" {
		t.Fatalf("messages = %+v", f.Messages)
	}

	var missing InboundFrame
	if err := json.Unmarshal([]byte(`{"type":"chat"}`), &missing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if missing.Messages != nil {
		t.Fatalf("messages = %+v, want nil", missing.Messages)
	}
}
