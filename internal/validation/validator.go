// Package validation turns raw chat-completion payloads into typed requests,
// collecting every structural violation instead of stopping at the first.
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"relaygate/internal/core"
)

// Validator checks inbound payloads. It is safe for concurrent use.
type Validator struct {
	structs *validator.Validate
}

// New creates a Validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return field.Name
		}
		return name
	})
	return &Validator{structs: v}
}

// Validate parses body into a ChatRequest. On failure it returns a
// *core.GatewayError of kind Validation listing every violation as
// "path: message". It never performs I/O.
func (v *Validator) Validate(body []byte) (*core.ChatRequest, error) {
	errs := checkShape(body)
	if errs.fatal {
		return nil, core.NewValidationError(errs.details())
	}

	// Wrongly typed values were already reported; null them out so the rest
	// of the payload still decodes and gets checked.
	for _, fe := range errs.list {
		if fe.raw == "" {
			continue
		}
		patched, err := sjson.SetRawBytes(body, fe.raw, []byte("null"))
		if err == nil {
			body = patched
		}
	}

	var req core.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		errs.add(field{display: "body"}, fmt.Sprintf("could not be decoded: %v", err))
		return nil, core.NewValidationError(errs.details())
	}

	if err := v.structs.Struct(&req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs.addUnlessCovered(namespacePath(fe.Namespace()), describe(fe))
			}
		} else {
			errs.add(field{display: "body"}, err.Error())
		}
	}

	checkRules(&req, &errs)

	if len(errs.list) > 0 {
		return nil, core.NewValidationError(errs.details())
	}
	req.Extra = extraFields(body)
	return &req, nil
}

// knownFields are the top-level keys ChatRequest models.
var knownFields = func() map[string]bool {
	t := reflect.TypeOf(core.ChatRequest{})
	known := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			known[name] = true
		}
	}
	return known
}()

// extraFields collects the top-level members of body that ChatRequest does
// not model. It returns nil when there are none.
func extraFields(body []byte) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		if knownFields[key.Str] {
			return true
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[key.Str] = json.RawMessage(value.Raw)
		return true
	})
	return extra
}

// namespacePath drops the leading struct name validator puts on every
// namespace ("ChatRequest.messages[0].role" -> "messages[0].role").
func namespacePath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "eq":
		return fmt.Sprintf("must be %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
