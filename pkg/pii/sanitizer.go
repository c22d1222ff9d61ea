// Package pii classifies sample values as personally identifying and replaces
// them with deterministic placeholders before they reach an LLM prompt.
package pii

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"db-chat-go/internal/model"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// sensitiveNameParts are matched against the lower-cased column name.
var sensitiveNameParts = []string{
	"name", "email", "mail", "phone", "mobile", "ssn", "social_security",
	"address", "street", "city", "state", "zip", "postal", "country",
	"username", "login", "password", "passwd", "token", "secret", "api_key",
	"birth", "dob", "credit_card", "card_number", "iban",
}

// input is what every rule sees.
type input struct {
	column model.SchemaColumn
	name   string // lower-cased column name
	value  any
	text   string // string form of value, "" for nil
	isText bool
}

type detectRule struct {
	name string
	// verdict is true when the rule decides; flag is the decision.
	match func(in input) (verdict bool, flag bool)
}

// detectRules are evaluated in order; the first rule that reaches a verdict wins.
var detectRules = []detectRule{
	{"primary-key", func(in input) (bool, bool) { return in.column.IsPrimary, false }},
	{"temporal-type", func(in input) (bool, bool) { return isTemporalType(in.column.DataType), false }},
	{"temporal-value", func(in input) (bool, bool) {
		_, ok := in.value.(time.Time)
		return ok, false
	}},
	{"sensitive-name", func(in input) (bool, bool) { return containsAny(in.name, sensitiveNameParts...), true }},
	{"email-value", func(in input) (bool, bool) { return in.isText && isEmail(in.text), true }},
	{"phone-value", func(in input) (bool, bool) { return isPhone(in.text), true }},
}

type substituteRule struct {
	name    string
	match   func(in input) bool
	replace func(n int) any
}

// substituteRules are evaluated in order once a value is flagged. n is rowIndex+1.
var substituteRules = []substituteRule{
	{"email-value", func(in input) bool { return in.isText && isEmail(in.text) }, emailFor},
	{"email", nameHas("email", "mail"), emailFor},
	{"phone", nameHas("phone", "mobile"), phoneFor},
	{"username", nameHas("username", "user_name", "login"), func(n int) any { return fmt.Sprintf("user_%d", n) }},
	{"credential", nameHas("password", "passwd", "token", "secret", "api_key"), redactedFor},
	{"first-name", func(in input) bool { return containsAny(in.name, "first") && containsAny(in.name, "name") }, func(n int) any { return fmt.Sprintf("FirstName%d", n) }},
	{"last-name", func(in input) bool {
		return (containsAny(in.name, "last") && containsAny(in.name, "name")) || containsAny(in.name, "surname")
	}, func(n int) any { return fmt.Sprintf("LastName%d", n) }},
	{"full-name", nameHas("name"), func(n int) any { return fmt.Sprintf("Person %d", n) }},
	{"address", nameHas("address", "street"), func(n int) any { return fmt.Sprintf("%d Example Street", n) }},
	{"city", nameHas("city"), func(n int) any { return fmt.Sprintf("City%d", n) }},
	{"state", nameHas("state"), func(n int) any { return fmt.Sprintf("State%d", n) }},
	{"zip", nameHas("zip", "postal"), func(n int) any { return fmt.Sprintf("%05d", n) }},
	{"country", nameHas("country"), func(n int) any { return fmt.Sprintf("Country%d", n) }},
	{"phone-value", func(in input) bool { return isPhone(in.text) }, phoneFor},
	{"text", func(in input) bool { return in.isText }, redactedFor},
	{"number", func(in input) bool { return isNumber(in.value) }, func(n int) any { return n }},
	{"bool", func(in input) bool {
		_, ok := in.value.(bool)
		return ok
	}, func(int) any { return false }},
}

// Sanitizer is stateless; the zero value is ready to use.
type Sanitizer struct{}

// New returns a Sanitizer.
func New() Sanitizer { return Sanitizer{} }

// ClassifyAndMask returns value unchanged unless it is judged sensitive, in
// which case a placeholder derived from the column name and rowIndex is
// returned. nil always passes through.
func (Sanitizer) ClassifyAndMask(column model.SchemaColumn, columnName string, value any, rowIndex int) any {
	if value == nil {
		return nil
	}
	in := newInput(column, columnName, value)
	if !isSensitive(in) {
		return value
	}
	n := rowIndex + 1
	for _, rule := range substituteRules {
		if rule.match(in) {
			return rule.replace(n)
		}
	}
	return redactedFor(n)
}

// SanitizeRow masks every cell of row. columns supplies metadata by column
// name; cells without metadata are judged by name and value shape alone.
func (s Sanitizer) SanitizeRow(columns map[string]model.SchemaColumn, row map[string]any, rowIndex int) map[string]any {
	out := make(map[string]any, len(row))
	for name, value := range row {
		out[name] = s.ClassifyAndMask(columns[name], name, value, rowIndex)
	}
	return out
}

// isSensitive reports whether the detection rules flag the input.
func isSensitive(in input) bool {
	for _, rule := range detectRules {
		if verdict, flag := rule.match(in); verdict {
			return flag
		}
	}
	return false
}

func newInput(column model.SchemaColumn, columnName string, value any) input {
	in := input{column: column, name: strings.ToLower(columnName), value: value}
	switch v := value.(type) {
	case string:
		in.text, in.isText = v, true
	case []byte:
		in.text, in.isText = string(v), true
	case nil:
	case float64:
		in.text = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		in.text = strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		in.text = fmt.Sprint(v)
	}
	return in
}

func isTemporalType(dataType string) bool {
	t := strings.ToLower(dataType)
	return strings.Contains(t, "date") || strings.Contains(t, "time")
}

func isEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

func isPhone(s string) bool {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 15
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func containsAny(s string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func nameHas(parts ...string) func(in input) bool {
	return func(in input) bool { return containsAny(in.name, parts...) }
}

func emailFor(n int) any    { return fmt.Sprintf("user%d@example.com", n) }
func phoneFor(n int) any    { return fmt.Sprintf("555%07d", n) }
func redactedFor(n int) any { return fmt.Sprintf("redacted_%d", n) }
