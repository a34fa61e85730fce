// Package mapper resolves partial dataset identifiers into storage
// locations. It owns the path templates, the per-dataset-type mappings that
// fill identifiers from the registry, and the dispatch table the caller
// drives.
package mapper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
)

// FieldType is the value type a template placeholder demands.
type FieldType int

const (
	FieldInt FieldType = iota
	FieldFloat
	FieldString
)

// String returns the type name shown to callers listing keys.
func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	default:
		return "string"
	}
}

// KeySchema maps identifier keys to the value type the path template
// demands for them.
type KeySchema map[string]FieldType

// Keys returns the schema keys, sorted.
func (s KeySchema) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Copy returns an independent copy of the schema.
func (s KeySchema) Copy() KeySchema {
	out := make(KeySchema, len(s))
	for key, ft := range s {
		out[key] = ft
	}
	return out
}

// piece is one scanned template element: a literal prefix plus, when key is
// set, a placeholder to render behind it.
type piece struct {
	literal string
	key     string
	verb    byte   // declared conversion
	format  string // equivalent fmt spec, verb already translated
}

// Template is a parsed path template. Placeholders take the form
// %(key)spec with printf-style flags, width and precision and one of the
// diouxXeEfFgGcrs conversions. Every placeholder must be named; a stray or
// malformed conversion fails at parse time rather than at first render.
type Template struct {
	raw         string
	datasetType string
	pieces      []piece
	schema      KeySchema
}

const templateVerbs = "diouxXeEfFgGcrs"

// ParseTemplate scans a path template for one dataset type.
func ParseTemplate(raw, datasetType string) (*Template, error) {
	t := &Template{raw: raw, datasetType: datasetType, schema: KeySchema{}}
	var lit strings.Builder
	i := 0
	for i < len(raw) {
		if raw[i] != '%' {
			lit.WriteByte(raw[i])
			i++
			continue
		}
		if i+1 < len(raw) && raw[i+1] == '%' {
			lit.WriteByte('%')
			i += 2
			continue
		}
		if i+1 >= len(raw) || raw[i+1] != '(' {
			return nil, templateError(datasetType, raw, "conversion at index %d is not named", i)
		}
		j := i + 2
		start := j
		for j < len(raw) && raw[j] != ')' {
			j++
		}
		if j >= len(raw) {
			return nil, templateError(datasetType, raw, "unterminated placeholder name at index %d", i)
		}
		name := raw[start:j]
		if !isIdentifier(name) {
			return nil, templateError(datasetType, raw, "invalid placeholder name %q at index %d", name, i)
		}
		j++
		specStart := j
		for j < len(raw) && strings.IndexByte("-+ #0", raw[j]) >= 0 {
			j++
		}
		for j < len(raw) && isDigit(raw[j]) {
			j++
		}
		if j < len(raw) && raw[j] == '.' {
			j++
			for j < len(raw) && isDigit(raw[j]) {
				j++
			}
		}
		if j >= len(raw) {
			return nil, templateError(datasetType, raw, "placeholder %s has no conversion", name)
		}
		verb := raw[j]
		fieldType, ok := fieldTypeOf(verb)
		if !ok {
			return nil, templateError(datasetType, raw, "unexpected format specifier %c for field %s", verb, name)
		}
		t.pieces = append(t.pieces, piece{
			literal: lit.String(),
			key:     name,
			verb:    verb,
			format:  "%" + raw[specStart:j] + string(goVerb(verb)),
		})
		lit.Reset()
		t.schema[name] = fieldType
		i = j + 1
	}
	if lit.Len() > 0 {
		t.pieces = append(t.pieces, piece{literal: lit.String()})
	}
	return t, nil
}

// Raw returns the template as declared in the policy.
func (t *Template) Raw() string {
	return t.raw
}

// Schema returns the key schema the template demands.
func (t *Template) Schema() KeySchema {
	return t.schema
}

// Render substitutes identifier values into the template. Every placeholder
// key must be present in the identifier; values are coerced per conversion
// (floats truncate for integer conversions, strings never convert to
// numbers).
func (t *Template) Render(id dataid.DataID) (string, error) {
	var b strings.Builder
	for _, p := range t.pieces {
		b.WriteString(p.literal)
		if p.key == "" {
			continue
		}
		value, ok := id[p.key]
		if !ok {
			return "", errors.Newf("cannot render %s template: no value for %s", t.datasetType, p.key).
				Component("mapper").
				Category(errors.CategoryTemplate).
				Context("template", t.raw).
				Build()
		}
		rendered, err := renderValue(p, value)
		if err != nil {
			return "", errors.Newf("cannot render %s template field %s: %v", t.datasetType, p.key, err).
				Component("mapper").
				Category(errors.CategoryTemplate).
				Context("template", t.raw).
				Build()
		}
		b.WriteString(rendered)
	}
	return b.String(), nil
}

func renderValue(p piece, value any) (string, error) {
	switch p.verb {
	case 'd', 'i', 'u', 'o', 'x', 'X':
		n, ok := dataid.AsInt64(value)
		if !ok {
			return "", fmt.Errorf("%%%c needs an integer, got %T", p.verb, value)
		}
		return fmt.Sprintf(p.format, n), nil
	case 'e', 'E', 'f', 'F', 'g', 'G':
		f, ok := dataid.AsFloat64(value)
		if !ok {
			return "", fmt.Errorf("%%%c needs a number, got %T", p.verb, value)
		}
		return fmt.Sprintf(p.format, f), nil
	case 'c':
		switch v := dataid.Normalize(value).(type) {
		case int64:
			return fmt.Sprintf(p.format, rune(v)), nil
		case string:
			runes := []rune(v)
			if len(runes) != 1 {
				return "", fmt.Errorf("%%c needs a single character, got %q", v)
			}
			return fmt.Sprintf(p.format, runes[0]), nil
		default:
			return "", fmt.Errorf("%%c needs a character, got %T", value)
		}
	case 'r':
		s := dataid.AsString(value)
		if _, isString := dataid.Normalize(value).(string); isString {
			s = strconv.Quote(s)
		}
		return fmt.Sprintf(p.format, s), nil
	default: // 's'
		return fmt.Sprintf(p.format, dataid.AsString(value)), nil
	}
}

func fieldTypeOf(verb byte) (FieldType, bool) {
	switch {
	case strings.IndexByte("diouxX", verb) >= 0:
		return FieldInt, true
	case strings.IndexByte("eEfFgG", verb) >= 0:
		return FieldFloat, true
	case strings.IndexByte("crs", verb) >= 0:
		return FieldString, true
	default:
		return 0, false
	}
}

// goVerb translates a template conversion into the fmt verb producing the
// same text.
func goVerb(verb byte) byte {
	switch verb {
	case 'u', 'i':
		return 'd'
	case 'F':
		return 'f'
	case 'r':
		return 's'
	default:
		return verb
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return '0' <= b && b <= '9'
}

func templateError(datasetType, raw, format string, args ...any) error {
	return errors.Newf("invalid template for dataset %s: "+format, append([]any{datasetType}, args...)...).
		Component("mapper").
		Category(errors.CategoryConfiguration).
		Context("template", raw).
		Build()
}
