package validation

import (
	"strconv"
	"strings"
)

// field addresses a value in the payload twice: as shown to callers
// ("messages[0].role") and as an sjson path ("messages.0.role").
type field struct {
	display string
	raw     string
}

func (f field) key(name string) field {
	if f.display == "" {
		return field{display: name, raw: name}
	}
	return field{display: f.display + "." + name, raw: f.raw + "." + name}
}

func (f field) index(i int) field {
	return field{display: f.display + "[" + strconv.Itoa(i) + "]", raw: f.raw + "." + strconv.Itoa(i)}
}

type fieldError struct {
	field
	message string
}

type errorList struct {
	list []fieldError
	// fatal means the payload could not be inspected at all.
	fatal bool
}

func (l *errorList) add(f field, message string) {
	l.list = append(l.list, fieldError{field: f, message: message})
}

// addUnlessCovered skips errors at or below a path that already has one, so
// a wrongly typed value is reported once rather than again as missing.
func (l *errorList) addUnlessCovered(path, message string) {
	for _, fe := range l.list {
		if fe.display == path ||
			strings.HasPrefix(path, fe.display+".") ||
			strings.HasPrefix(path, fe.display+"[") {
			return
		}
	}
	l.add(field{display: path}, message)
}

func (l *errorList) details() []string {
	out := make([]string, len(l.list))
	for i, fe := range l.list {
		out[i] = fe.display + ": " + fe.message
	}
	return out
}
