package relay

import (
	"errors"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var errInvalidFrame = errors.New("frame payload is not valid JSON")

const (
	deltaPath        = "choices.0.delta"
	functionCallPath = deltaPath + ".function_call"
	contentPath      = deltaPath + ".content"
	finishPath       = "choices.0.finish_reason"
)

// NormalizeChunk reshapes one streamed chunk. A function_call fragment is
// reduced to whichever of name and arguments it carries, with content forced
// to null; a fragment carrying both is split into two chunks, name first.
// Chunks with tool_calls also get content null. Anything else is returned
// byte for byte.
func NormalizeChunk(payload []byte) ([][]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errInvalidFrame
	}

	delta := gjson.GetBytes(payload, deltaPath)
	if !delta.IsObject() {
		return [][]byte{payload}, nil
	}

	if call := delta.Get("function_call"); call.IsObject() {
		return normalizeFunctionCall(payload, call)
	}
	if calls := delta.Get("tool_calls"); calls.Exists() && calls.Type != gjson.Null {
		out, err := sjson.SetRawBytes(payload, contentPath, []byte("null"))
		if err != nil {
			return nil, err
		}
		return [][]byte{out}, nil
	}
	return [][]byte{payload}, nil
}

func normalizeFunctionCall(payload []byte, call gjson.Result) ([][]byte, error) {
	name := call.Get("name")
	args := call.Get("arguments")

	// An empty name carries nothing to assemble; treat it as absent.
	hasName := name.Exists() && name.Type != gjson.Null && !(name.Type == gjson.String && name.Str == "")
	hasArgs := args.Exists() && args.Type != gjson.Null
	if hasName && args.Type == gjson.String && args.Str == "" {
		hasArgs = false
	}

	switch {
	case hasName && hasArgs:
		first, err := withFunctionCall(payload, "name", name.Raw)
		if err != nil {
			return nil, err
		}
		if f := gjson.GetBytes(first, finishPath); f.Exists() && f.Type != gjson.Null {
			if first, err = sjson.SetRawBytes(first, finishPath, []byte("null")); err != nil {
				return nil, err
			}
		}
		second, err := withFunctionCall(payload, "arguments", args.Raw)
		if err != nil {
			return nil, err
		}
		return [][]byte{first, second}, nil
	case hasName:
		out, err := withFunctionCall(payload, "name", name.Raw)
		return [][]byte{out}, err
	case hasArgs:
		out, err := withFunctionCall(payload, "arguments", args.Raw)
		return [][]byte{out}, err
	default:
		out, err := sjson.SetRawBytes(payload, contentPath, []byte("null"))
		return [][]byte{out}, err
	}
}

func withFunctionCall(payload []byte, key, raw string) ([]byte, error) {
	out, err := sjson.SetRawBytes(payload, functionCallPath, []byte("{"+strconv.Quote(key)+":"+raw+"}"))
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(out, contentPath, []byte("null"))
}

// NormalizeBody sets message.content to null on every choice whose message
// carries a function_call or tool_calls. Bodies that are not JSON objects
// are returned unchanged.
func NormalizeBody(body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}
	choices := gjson.GetBytes(body, "choices")
	if !choices.IsArray() {
		return body
	}

	out := body
	for i, choice := range choices.Array() {
		msg := choice.Get("message")
		if !msg.IsObject() {
			continue
		}
		call := msg.Get("function_call")
		tools := msg.Get("tool_calls")
		hasCall := call.Exists() && call.Type != gjson.Null
		hasTools := tools.IsArray() && len(tools.Array()) > 0
		if !hasCall && !hasTools {
			continue
		}
		if content := msg.Get("content"); content.Exists() && content.Type == gjson.Null {
			continue
		}
		patched, err := sjson.SetRawBytes(out, "choices."+strconv.Itoa(i)+".message.content", []byte("null"))
		if err != nil {
			return body
		}
		out = patched
	}
	return out
}
