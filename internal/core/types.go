package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
	RoleTool      = "tool"
)

// ChatRequest represents the incoming chat completion request
type ChatRequest struct {
	Model            string               `json:"model" validate:"required"`
	Messages         []Message            `json:"messages" validate:"required,min=1,dive"`
	Temperature      *float64             `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP             *float64             `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	N                *int                 `json:"n,omitempty" validate:"omitempty,gte=1"`
	MaxTokens        *int                 `json:"max_tokens,omitempty" validate:"omitempty,gte=1"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	Stream           bool                 `json:"stream,omitempty"`
	Stop             *StopSequences       `json:"stop,omitempty"`
	User             *string              `json:"user,omitempty"`
	Functions        []FunctionDefinition `json:"functions,omitempty" validate:"omitempty,dive"`
	FunctionCall     *CallChoice          `json:"function_call,omitempty"`
	Tools            []Tool               `json:"tools,omitempty" validate:"omitempty,dive"`
	ToolChoice       *CallChoice          `json:"tool_choice,omitempty"`

	// Extra holds top-level fields not modeled above (seed, logit_bias,
	// response_format, ...). They are forwarded upstream unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

// Message represents a single message in the chat
type Message struct {
	Role         string         `json:"role" validate:"required,oneof=system user assistant function tool"`
	Content      MessageContent `json:"content"`
	Name         string         `json:"name,omitempty"`
	FunctionCall *FunctionCall  `json:"function_call,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty" validate:"omitempty,dive"`
	ToolCallID   string         `json:"tool_call_id,omitempty"`
}

// FunctionCall is a function invocation with JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is an assistant's request to call a tool.
type ToolCall struct {
	ID       string       `json:"id" validate:"required"`
	Type     string       `json:"type" validate:"required,eq=function"`
	Function FunctionCall `json:"function"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string          `json:"name" validate:"required"`
	Description *string         `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool wraps a function definition under type "function".
type Tool struct {
	Type     string             `json:"type" validate:"required,eq=function"`
	Function FunctionDefinition `json:"function"`
}

// CallChoice is function_call or tool_choice: either a mode string
// ("none", "auto", "required") or a named function.
type CallChoice struct {
	Mode string
	Type string
	Name string
}

// MarshalJSON implements json.Marshaler.
func (c CallChoice) MarshalJSON() ([]byte, error) {
	switch {
	case c.Mode != "":
		return json.Marshal(c.Mode)
	case c.Type != "":
		return json.Marshal(map[string]interface{}{
			"type":     c.Type,
			"function": map[string]string{"name": c.Name},
		})
	default:
		return json.Marshal(map[string]string{"name": c.Name})
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CallChoice) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		*c = CallChoice{}
		return json.Unmarshal(trimmed, &c.Mode)
	}
	var obj struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Function *struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("call choice must be a string or an object: %w", err)
	}
	*c = CallChoice{Type: obj.Type, Name: obj.Name}
	if obj.Function != nil {
		c.Name = obj.Function.Name
	}
	return nil
}

// StopSequences is "stop": a single string or a list of strings.
type StopSequences struct {
	Values []string
	Single bool
}

// MarshalJSON implements json.Marshaler.
func (s StopSequences) MarshalJSON() ([]byte, error) {
	if s.Single && len(s.Values) == 1 {
		return json.Marshal(s.Values[0])
	}
	if s.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Values)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var one string
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return err
		}
		*s = StopSequences{Values: []string{one}, Single: true}
		return nil
	}
	var many []string
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return err
	}
	*s = StopSequences{Values: many}
	return nil
}

// HasImageContent reports whether any message carries an image_url part.
func (r *ChatRequest) HasImageContent() bool {
	for _, msg := range r.Messages {
		if msg.Content.HasImage() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the request. Raw JSON values (parameter
// schemas and Extra entries) are shared since nothing rewrites them.
func (r *ChatRequest) Clone() *ChatRequest {
	out := *r
	out.Temperature = clonePtr(r.Temperature)
	out.TopP = clonePtr(r.TopP)
	out.N = clonePtr(r.N)
	out.MaxTokens = clonePtr(r.MaxTokens)
	out.PresencePenalty = clonePtr(r.PresencePenalty)
	out.FrequencyPenalty = clonePtr(r.FrequencyPenalty)
	out.User = clonePtr(r.User)
	out.FunctionCall = clonePtr(r.FunctionCall)
	out.ToolChoice = clonePtr(r.ToolChoice)
	out.Extra = maps.Clone(r.Extra)
	if r.Stop != nil {
		stop := StopSequences{Single: r.Stop.Single, Values: append([]string(nil), r.Stop.Values...)}
		out.Stop = &stop
	}

	if r.Messages != nil {
		out.Messages = make([]Message, len(r.Messages))
		for i, msg := range r.Messages {
			msg.Content = msg.Content.clone()
			msg.FunctionCall = clonePtr(msg.FunctionCall)
			if msg.ToolCalls != nil {
				msg.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
			}
			out.Messages[i] = msg
		}
	}
	if r.Functions != nil {
		out.Functions = make([]FunctionDefinition, len(r.Functions))
		for i, fn := range r.Functions {
			fn.Description = clonePtr(fn.Description)
			out.Functions[i] = fn
		}
	}
	if r.Tools != nil {
		out.Tools = make([]Tool, len(r.Tools))
		for i, tool := range r.Tools {
			tool.Function.Description = clonePtr(tool.Function.Description)
			out.Tools[i] = tool
		}
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Model represents a single entry of the model table
type Model struct {
	ID      string `json:"id" yaml:"id"`
	Object  string `json:"object" yaml:"-"`
	Name    string `json:"name" yaml:"name"`
	OwnedBy string `json:"owned_by" yaml:"owned_by"`
	Premium bool   `json:"premium" yaml:"premium"`
}

// ModelsResponse represents the response from the /v1/models endpoint
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Provider is an upstream endpoint and its model id translation table.
type Provider struct {
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Models   map[string]string `json:"models" yaml:"models"`
}

// ModelID returns the provider's id for a public model id, or the public id
// itself when the table has no translation.
func (p Provider) ModelID(public string) string {
	if id := p.Models[public]; id != "" {
		return id
	}
	return public
}

// Serves reports whether the provider has a translation for modelID.
func (p Provider) Serves(modelID string) bool {
	_, ok := p.Models[modelID]
	return ok
}
