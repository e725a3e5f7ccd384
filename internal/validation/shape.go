package validation

import (
	"strconv"

	"github.com/tidwall/gjson"

	"relaygate/internal/core"
)

// checkShape reports type errors for every known field of the payload.
// Absent and null values are left for the struct rules to judge.
func checkShape(body []byte) errorList {
	var errs errorList
	if !gjson.ValidBytes(body) {
		errs.add(field{display: "body"}, "must be valid JSON")
		errs.fatal = true
		return errs
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		errs.add(field{display: "body"}, "must be a JSON object")
		errs.fatal = true
		return errs
	}

	var top field
	expectString(&errs, root, top.key("model"))
	if msgs := root.Get("messages"); present(msgs) {
		if !msgs.IsArray() {
			errs.add(top.key("messages"), "must be an array")
		} else {
			for i, msg := range msgs.Array() {
				checkMessage(&errs, msg, top.key("messages").index(i))
			}
		}
	}
	for _, name := range []string{"temperature", "top_p", "presence_penalty", "frequency_penalty"} {
		expectNumber(&errs, root, top.key(name))
	}
	expectInteger(&errs, root, top.key("n"))
	expectInteger(&errs, root, top.key("max_tokens"))
	if stream := root.Get("stream"); present(stream) && !stream.IsBool() {
		errs.add(top.key("stream"), "must be a boolean")
	}
	expectString(&errs, root, top.key("user"))
	checkStop(&errs, root.Get("stop"), top.key("stop"))

	if fns := root.Get("functions"); present(fns) {
		if !fns.IsArray() {
			errs.add(top.key("functions"), "must be an array")
		} else {
			for i, fn := range fns.Array() {
				checkFunctionDefinition(&errs, fn, top.key("functions").index(i))
			}
		}
	}
	if choice := root.Get("function_call"); present(choice) {
		switch {
		case choice.Type == gjson.String:
		case choice.IsObject():
			expectString(&errs, choice, top.key("function_call").key("name"))
		default:
			errs.add(top.key("function_call"), "must be a string or an object")
		}
	}

	if tools := root.Get("tools"); present(tools) {
		if !tools.IsArray() {
			errs.add(top.key("tools"), "must be an array")
		} else {
			for i, tool := range tools.Array() {
				at := top.key("tools").index(i)
				if !tool.IsObject() {
					errs.add(at, "must be an object")
					continue
				}
				expectString(&errs, tool, at.key("type"))
				if fn := tool.Get("function"); present(fn) {
					checkFunctionDefinition(&errs, fn, at.key("function"))
				}
			}
		}
	}
	if choice := root.Get("tool_choice"); present(choice) {
		switch {
		case choice.Type == gjson.String:
		case choice.IsObject():
			at := top.key("tool_choice")
			expectString(&errs, choice, at.key("type"))
			if fn := choice.Get("function"); present(fn) {
				if !fn.IsObject() {
					errs.add(at.key("function"), "must be an object")
				} else {
					expectString(&errs, fn, at.key("function").key("name"))
				}
			}
		default:
			errs.add(top.key("tool_choice"), "must be a string or an object")
		}
	}
	return errs
}

func checkMessage(errs *errorList, msg gjson.Result, at field) {
	if !msg.IsObject() {
		errs.add(at, "must be an object")
		return
	}
	expectString(errs, msg, at.key("role"))
	expectString(errs, msg, at.key("name"))
	expectString(errs, msg, at.key("tool_call_id"))

	if content := msg.Get("content"); present(content) {
		switch {
		case content.Type == gjson.String:
		case content.IsArray():
			for j, part := range content.Array() {
				checkContentPart(errs, part, at.key("content").index(j))
			}
		default:
			errs.add(at.key("content"), "must be a string, null, or an array of parts")
		}
	}

	if call := msg.Get("function_call"); present(call) {
		checkFunctionCall(errs, call, at.key("function_call"))
	}

	if calls := msg.Get("tool_calls"); present(calls) {
		if !calls.IsArray() {
			errs.add(at.key("tool_calls"), "must be an array")
			return
		}
		for j, call := range calls.Array() {
			callAt := at.key("tool_calls").index(j)
			if !call.IsObject() {
				errs.add(callAt, "must be an object")
				continue
			}
			expectString(errs, call, callAt.key("id"))
			expectString(errs, call, callAt.key("type"))
			if fn := call.Get("function"); present(fn) {
				checkFunctionCall(errs, fn, callAt.key("function"))
			}
		}
	}
}

func checkContentPart(errs *errorList, part gjson.Result, at field) {
	if !part.IsObject() {
		errs.add(at, "must be an object")
		return
	}
	typ := part.Get("type")
	if typ.Type != gjson.String {
		errs.add(at.key("type"), "must be one of text, image_url")
		return
	}
	switch typ.Str {
	case core.PartTypeText:
		if text := part.Get("text"); text.Type != gjson.String {
			errs.add(at.key("text"), "must be a string")
		}
	case core.PartTypeImageURL:
		img := part.Get("image_url")
		if !img.IsObject() {
			errs.add(at.key("image_url"), "must be an object")
			return
		}
		if url := img.Get("url"); url.Type != gjson.String || url.Str == "" {
			errs.add(at.key("image_url").key("url"), "must be a non-empty string")
		}
		expectString(errs, img, at.key("image_url").key("detail"))
	default:
		errs.add(at.key("type"), "must be one of text, image_url")
	}
}

func checkFunctionCall(errs *errorList, call gjson.Result, at field) {
	if !call.IsObject() {
		errs.add(at, "must be an object")
		return
	}
	expectString(errs, call, at.key("name"))
	expectString(errs, call, at.key("arguments"))
}

func checkFunctionDefinition(errs *errorList, fn gjson.Result, at field) {
	if !fn.IsObject() {
		errs.add(at, "must be an object")
		return
	}
	expectString(errs, fn, at.key("name"))
	expectString(errs, fn, at.key("description"))
	if params := fn.Get("parameters"); present(params) && !params.IsObject() {
		errs.add(at.key("parameters"), "must be an object")
	}
}

func checkStop(errs *errorList, stop gjson.Result, at field) {
	if !present(stop) {
		return
	}
	switch {
	case stop.Type == gjson.String:
	case stop.IsArray():
		for i, s := range stop.Array() {
			if s.Type != gjson.String {
				errs.add(at.index(i), "must be a string")
			}
		}
	default:
		errs.add(at, "must be a string or an array of strings")
	}
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// lastKey is the final segment of the sjson path, which is also the key
// inside the parent object.
func lastKey(at field) string {
	for i := len(at.raw) - 1; i >= 0; i-- {
		if at.raw[i] == '.' {
			return at.raw[i+1:]
		}
	}
	return at.raw
}

func expectString(errs *errorList, parent gjson.Result, at field) {
	if v := parent.Get(lastKey(at)); present(v) && v.Type != gjson.String {
		errs.add(at, "must be a string")
	}
}

func expectNumber(errs *errorList, parent gjson.Result, at field) {
	if v := parent.Get(lastKey(at)); present(v) && v.Type != gjson.Number {
		errs.add(at, "must be a number")
	}
}

func expectInteger(errs *errorList, parent gjson.Result, at field) {
	v := parent.Get(lastKey(at))
	if !present(v) {
		return
	}
	if v.Type != gjson.Number {
		errs.add(at, "must be an integer")
		return
	}
	if _, err := strconv.ParseInt(v.Raw, 10, 64); err != nil {
		errs.add(at, "must be an integer")
	}
}
