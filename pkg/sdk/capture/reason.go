package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Stacker is implemented by errors that carry a stack trace.
type Stacker interface {
	Stack() string
}

// Reason is a normalized promise-rejection reason: either Structured or Raw.
type Reason interface {
	// Report converts the reason into an error report.
	Report() Report
	isReason()
}

// Structured is a rejection whose reason was an error.
type Structured struct {
	Message string
	Stack   string
}

// Raw is a rejection whose reason was an arbitrary value.
type Raw struct {
	Serialized string
}

func (Structured) isReason() {}
func (Raw) isReason()        {}

func (s Structured) Report() Report {
	return Report{Message: s.Message, Stack: s.Stack}
}

func (r Raw) Report() Report {
	return Report{
		Message: "Unhandled promise rejection: " + r.Serialized,
		Context: map[string]any{"reason": r.Serialized},
	}
}

// NormalizeReason classifies a rejection reason.
func NormalizeReason(v any) Reason {
	if err, ok := v.(error); ok && err != nil {
		return Structured{Message: err.Error(), Stack: StackOf(err)}
	}
	return Raw{Serialized: serialize(v)}
}

// StackOf returns the first stack trace found in err's chain.
func StackOf(err error) string {
	var s Stacker
	if errors.As(err, &s) {
		return s.Stack()
	}
	return ""
}

func serialize(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Stringify renders console arguments the way the console prints them:
// composite values as JSON, everything else via fmt, joined by spaces.
func Stringify(args ...any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, stringifyArg(a))
	}
	return strings.Join(parts, " ")
}

func stringifyArg(a any) string {
	switch x := a.(type) {
	case nil:
		return "null"
	case string:
		return x
	case error:
		return x.Error()
	}
	switch reflect.Indirect(reflect.ValueOf(a)).Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		if b, err := json.Marshal(a); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(a)
}
