package core

import (
	"encoding/json"
	"testing"
)

func TestMessageContent_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind ContentKind
	}{
		{name: "string", input: `"hello"`, wantKind: ContentText},
		{name: "null", input: `null`, wantKind: ContentNull},
		{name: "parts", input: `[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`, wantKind: ContentParts},
		{name: "empty parts", input: `[]`, wantKind: ContentParts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mc MessageContent
			if err := json.Unmarshal([]byte(tt.input), &mc); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if mc.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", mc.Kind, tt.wantKind)
			}
			out, err := json.Marshal(mc)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(out) != tt.input {
				t.Errorf("Marshal() = %s, want %s", out, tt.input)
			}
		})
	}
}

func TestMessageContent_RejectsOtherTypes(t *testing.T) {
	var mc MessageContent
	if err := json.Unmarshal([]byte(`42`), &mc); err == nil {
		t.Error("expected error for numeric content")
	}
}

func TestMessage_MissingContentIsNull(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"assistant","function_call":{"name":"f","arguments":"{}"}}`), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, _ := json.Marshal(msg)
	want := `{"role":"assistant","content":null,"function_call":{"name":"f","arguments":"{}"}}`
	if string(out) != want {
		t.Errorf("Marshal() = %s, want %s", out, want)
	}
}

func TestCallChoice_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  CallChoice
	}{
		{name: "mode", input: `"auto"`, want: CallChoice{Mode: "auto"}},
		{name: "named function", input: `{"name":"lookup"}`, want: CallChoice{Name: "lookup"}},
		{name: "named tool", input: `{"function":{"name":"lookup"},"type":"function"}`, want: CallChoice{Type: "function", Name: "lookup"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CallChoice
			if err := json.Unmarshal([]byte(tt.input), &c); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if c != tt.want {
				t.Fatalf("got %+v, want %+v", c, tt.want)
			}
			out, _ := json.Marshal(c)
			if string(out) != tt.input {
				t.Errorf("Marshal() = %s, want %s", out, tt.input)
			}
		})
	}
}

func TestStopSequences_PreservesForm(t *testing.T) {
	for _, input := range []string{`"\n"`, `["a","b"]`} {
		var s StopSequences
		if err := json.Unmarshal([]byte(input), &s); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", input, err)
		}
		out, _ := json.Marshal(s)
		if string(out) != input {
			t.Errorf("Marshal() = %s, want %s", out, input)
		}
	}
}

func TestChatRequest_CloneIsDeep(t *testing.T) {
	temp := 0.5
	user := "u1"
	req := &ChatRequest{
		Model:       "gpt-4",
		Temperature: &temp,
		User:        &user,
		Messages: []Message{
			{Role: RoleUser, Content: PartsContent(ContentPart{Type: PartTypeText, Text: "hi"})},
		},
	}

	clone := req.Clone()
	*clone.Temperature = 1.5
	*clone.User = "changed"
	clone.Messages[0].Content.Parts[0].Text = "changed"

	if *req.Temperature != 0.5 || *req.User != "u1" || req.Messages[0].Content.Parts[0].Text != "hi" {
		t.Error("Clone() shares state with the original")
	}
}

func TestChatRequest_HasImageContent(t *testing.T) {
	req := &ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: TextContent("look")},
		{Role: RoleUser, Content: PartsContent(ContentPart{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: "https://x"}})},
	}}
	if !req.HasImageContent() {
		t.Error("HasImageContent() = false, want true")
	}

	req.Messages = req.Messages[:1]
	if req.HasImageContent() {
		t.Error("HasImageContent() = true, want false")
	}
}
