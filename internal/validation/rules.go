package validation

import (
	"fmt"
	"regexp"

	"relaygate/internal/core"
)

const maxStopSequences = 4

var functionName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// checkRules enforces the constraints that span more than one field.
func checkRules(req *core.ChatRequest, errs *errorList) {
	// An explicit empty list still counts as using the field.
	usesFunctions := req.Functions != nil || req.FunctionCall != nil
	usesTools := req.Tools != nil || req.ToolChoice != nil
	if usesFunctions && usesTools {
		errs.addUnlessCovered("tools", "cannot be combined with functions or function_call")
	}

	if req.Stop != nil && len(req.Stop.Values) > maxStopSequences {
		errs.addUnlessCovered("stop", fmt.Sprintf("must contain at most %d sequences", maxStopSequences))
	}

	for i, msg := range req.Messages {
		at := fmt.Sprintf("messages[%d]", i)
		switch msg.Role {
		case core.RoleFunction:
			if msg.Name == "" {
				errs.addUnlessCovered(at+".name", "is required for role function")
			}
		case core.RoleTool:
			if msg.ToolCallID == "" {
				errs.addUnlessCovered(at+".tool_call_id", "is required for role tool")
			}
		}
		if msg.FunctionCall != nil && msg.FunctionCall.Name == "" {
			errs.addUnlessCovered(at+".function_call.name", "is required")
		}
	}

	declared := make(map[string]bool, len(req.Functions))
	for i, fn := range req.Functions {
		checkFunctionName(errs, fmt.Sprintf("functions[%d].name", i), fn.Name)
		declared[fn.Name] = true
	}
	if req.FunctionCall != nil {
		checkFunctionCallChoice(errs, req.FunctionCall, declared)
	}

	toolNames := make(map[string]bool, len(req.Tools))
	for i, tool := range req.Tools {
		checkFunctionName(errs, fmt.Sprintf("tools[%d].function.name", i), tool.Function.Name)
		toolNames[tool.Function.Name] = true
	}
	if req.ToolChoice != nil {
		checkToolChoice(errs, req.ToolChoice, toolNames)
	}
}

func checkFunctionName(errs *errorList, path, name string) {
	if name != "" && !functionName.MatchString(name) {
		errs.addUnlessCovered(path, "must match ^[a-zA-Z0-9_-]{1,64}$")
	}
}

func checkFunctionCallChoice(errs *errorList, choice *core.CallChoice, declared map[string]bool) {
	const path = "function_call"
	switch {
	case choice.Mode == "none" || choice.Mode == "auto":
	case choice.Mode != "" || choice.Type != "":
		errs.addUnlessCovered(path, `must be "none", "auto" or {"name": ...}`)
		return
	case choice.Name == "":
		errs.addUnlessCovered(path+".name", "is required")
		return
	}
	if len(declared) == 0 {
		errs.addUnlessCovered(path, "requires functions")
		return
	}
	if choice.Name != "" && !declared[choice.Name] {
		errs.addUnlessCovered(path+".name", fmt.Sprintf("refers to unknown function %q", choice.Name))
	}
}

func checkToolChoice(errs *errorList, choice *core.CallChoice, declared map[string]bool) {
	const path = "tool_choice"
	switch {
	case choice.Mode == "none" || choice.Mode == "auto" || choice.Mode == "required":
	case choice.Mode != "":
		errs.addUnlessCovered(path, `must be "none", "auto", "required" or a named function`)
		return
	case choice.Type != "function":
		errs.addUnlessCovered(path+".type", `must be "function"`)
		return
	case choice.Name == "":
		errs.addUnlessCovered(path+".function.name", "is required")
		return
	}
	if len(declared) == 0 {
		errs.addUnlessCovered(path, "requires tools")
		return
	}
	if choice.Name != "" && !declared[choice.Name] {
		errs.addUnlessCovered(path+".function.name", fmt.Sprintf("refers to unknown tool %q", choice.Name))
	}
}
