// Package render expands the mail template micro-language.
//
// Each template string goes through three passes, in order:
//
//	{{#each items}}<li>{{this}}</li>{{/each}}   loop over a list variable
//	{{#if flag}}...{{/if}}                      keep the body when flag is truthy
//	{{name}}                                    substitute a variable
//
// Blocks do not nest. Placeholders without a matching variable and unterminated
// block markers are left in the output as literal text.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"PulseMail/internal/models"
)

var (
	eachBlock   = regexp.MustCompile(`(?s)\{\{#each\s+([\w.-]+)\s*\}\}(.*?)\{\{/each\}\}`)
	ifBlock     = regexp.MustCompile(`(?s)\{\{#if\s+([\w.-]+)\s*\}\}(.*?)\{\{/if\}\}`)
	placeholder = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)
	thisMarker  = regexp.MustCompile(`\{\{\s*this\s*\}\}`)
)

// ListSeparator joins list elements substituted outside of a loop body.
const ListSeparator = ", "

// ErrUnsupportedValue is wrapped by *Error when a variable cannot be turned into text.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Error reports the variable that could not be rendered.
type Error struct {
	Variable string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render: variable %q: %v", e.Variable, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is a rendered subject/HTML/text triple.
type Result struct {
	Subject string
	HTML    string
	Text    string
}

// Render expands the subject, HTML and text templates against vars.
// Values may be strings, numbers, booleans or lists of scalars.
func Render(subjectTpl, htmlTpl, textTpl string, vars map[string]any) (subject, html, text string, err error) {
	if subject, err = String(subjectTpl, vars); err != nil {
		return "", "", "", err
	}
	if html, err = String(htmlTpl, vars); err != nil {
		return "", "", "", err
	}
	if text, err = String(textTpl, vars); err != nil {
		return "", "", "", err
	}
	return subject, html, text, nil
}

// Template renders a stored template.
func Template(t *models.Template, vars map[string]any) (Result, error) {
	subject, html, text, err := Render(t.Subject, t.BodyHTML, t.BodyText, vars)
	if err != nil {
		return Result{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	return Result{Subject: subject, HTML: html, Text: text}, nil
}

// String renders a single template string.
func String(tpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tpl, "{{") {
		return tpl, nil
	}

	s := &state{vars: vars}
	out := replace(eachBlock, tpl, s.expandEach)
	out = replace(ifBlock, out, s.expandIf)
	out = replace(placeholder, out, s.substitute)
	if s.err != nil {
		return "", s.err
	}
	return out, nil
}

// state carries the variable bag through one String call and keeps the first error.
type state struct {
	vars map[string]any
	err  error
}

func (s *state) lookup(name string) (any, bool) {
	v, ok := s.vars[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (s *state) fail(name string, err error) {
	if s.err == nil {
		s.err = &Error{Variable: name, Err: err}
	}
}

func (s *state) expandEach(match string, groups []string) string {
	name, body := groups[1], groups[2]
	v, ok := s.lookup(name)
	if !ok {
		return ""
	}
	items, ok, err := list(v)
	if err != nil {
		s.fail(name, err)
		return match
	}
	if !ok {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		b.WriteString(thisMarker.ReplaceAllLiteralString(body, item))
	}
	return b.String()
}

func (s *state) expandIf(_ string, groups []string) string {
	name, body := groups[1], groups[2]
	v, ok := s.lookup(name)
	if !ok || !truthy(v) {
		return ""
	}
	return body
}

func (s *state) substitute(match string, groups []string) string {
	name := groups[1]
	v, ok := s.lookup(name)
	if !ok {
		return match
	}
	text, err := format(v)
	if err != nil {
		s.fail(name, err)
		return match
	}
	return text
}

// replace is regexp.ReplaceAllStringFunc with access to the submatches.
func replace(re *regexp.Regexp, src string, fn func(match string, groups []string) string) string {
	locs := re.FindAllStringSubmatchIndex(src, -1)
	if len(locs) == 0 {
		return src
	}

	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, loc := range locs {
		b.WriteString(src[last:loc[0]])
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = src[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(fn(src[loc[0]:loc[1]], groups))
		last = loc[1]
	}
	b.WriteString(src[last:])
	return b.String()
}

// format returns the text form of a scalar or list value.
func format(v any) (string, error) {
	items, ok, err := list(v)
	if err != nil {
		return "", err
	}
	if ok {
		return strings.Join(items, ListSeparator), nil
	}
	return scalar(v)
}

// list returns the elements of a slice value as text. ok is false for non-lists.
func list(v any) ([]string, bool, error) {
	switch val := v.(type) {
	case []string:
		return val, true, nil
	case string, []byte, fmt.Stringer:
		return nil, false, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false, nil
	}
	items := make([]string, 0, rv.Len())
	for i := range rv.Len() {
		elem := rv.Index(i).Interface()
		if elem == nil {
			items = append(items, "")
			continue
		}
		text, err := scalar(elem)
		if err != nil {
			return nil, true, err
		}
		items = append(items, text)
	}
	return items, true, nil
}

func scalar(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case json.Number:
		return val.String(), nil
	case fmt.Stringer:
		return val.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case string:
		return val != ""
	case bool:
		return val
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
