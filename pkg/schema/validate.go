package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
)

// Validate checks raw arguments against the contract. Empty or null
// arguments are treated as an empty object. On failure the error is an
// InvalidParams listing every offending field; on success the decoded
// arguments are returned. The only rewrite is of integer parameters written
// as 10.0 or 1e2, which come back as the integer literal 10 or 100.
func Validate(c *Contract, raw json.RawMessage) (Args, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, mcperrors.InvalidParams("", mcperrors.FieldError{
			Field:      "arguments",
			Constraint: "malformed JSON: " + err.Error(),
		})
	}
	if dec.More() {
		return nil, mcperrors.InvalidParams("", mcperrors.FieldError{
			Field:      "arguments",
			Constraint: "trailing data after arguments object",
		})
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, mcperrors.InvalidParams("", mcperrors.WrongType("arguments", "object", decoded))
	}

	v := &validator{}
	v.object("", obj, c.Params, c.AllowExtra)
	if len(v.fields) > 0 {
		return nil, mcperrors.InvalidParams("", v.fields...)
	}
	return Args(obj), nil
}

type validator struct {
	fields []mcperrors.FieldError
}

func (v *validator) fail(f mcperrors.FieldError) {
	v.fields = append(v.fields, f)
}

func (v *validator) object(prefix string, obj map[string]interface{}, params []Param, allowExtra bool) {
	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true
		path := joinPath(prefix, p.Name)
		val, present := obj[p.Name]
		if !present {
			if p.Required {
				v.fail(mcperrors.MissingField(path))
			}
			continue
		}
		obj[p.Name] = v.value(path, val, p)
	}
	if allowExtra {
		return
	}
	// report unknown fields in a stable order
	var unknown []string
	for k := range obj {
		if !declared[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		v.fail(mcperrors.UnknownField(joinPath(prefix, k)))
	}
}

// value checks val and returns it, in canonical form for integers
func (v *validator) value(path string, val interface{}, p Param) interface{} {
	before := len(v.fields)
	v.check(path, val, p)
	if p.Type != TypeInteger || len(v.fields) > before {
		return val
	}
	n := val.(json.Number)
	if _, err := n.Int64(); err == nil {
		return n
	}
	f, _ := n.Float64()
	return json.Number(strconv.FormatInt(int64(f), 10))
}

func (v *validator) check(path string, val interface{}, p Param) {
	switch p.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			v.fail(mcperrors.WrongType(path, "string", val))
			return
		}
		v.stringBounds(path, s, p)
	case TypeEnum:
		s, ok := val.(string)
		if !ok {
			v.fail(mcperrors.WrongType(path, "string", val))
			return
		}
		for _, allowed := range p.Enum {
			if s == allowed {
				return
			}
		}
		v.fail(mcperrors.NotInEnum(path, s, p.Enum))
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			v.fail(mcperrors.WrongType(path, "boolean", val))
		}
	case TypeNumber, TypeInteger:
		n, ok := val.(json.Number)
		if !ok {
			v.fail(mcperrors.WrongType(path, string(p.Type), val))
			return
		}
		f, err := n.Float64()
		if err != nil {
			v.fail(mcperrors.WrongType(path, string(p.Type), n.String()))
			return
		}
		if p.Type == TypeInteger && f != math.Trunc(f) {
			v.fail(mcperrors.WrongType(path, "integer", n.String()))
			return
		}
		if _, err := n.Int64(); err != nil && p.Type == TypeInteger && (f >= math.MaxInt64 || f < math.MinInt64) {
			v.fail(mcperrors.OutOfRange(path, f, "within the 64-bit integer range"))
			return
		}
		if p.Minimum != nil && f < *p.Minimum {
			v.fail(mcperrors.OutOfRange(path, f, ">= "+strconv.FormatFloat(*p.Minimum, 'f', -1, 64)))
		}
		if p.Maximum != nil && f > *p.Maximum {
			v.fail(mcperrors.OutOfRange(path, f, "<= "+strconv.FormatFloat(*p.Maximum, 'f', -1, 64)))
		}
	case TypeArray:
		items, ok := val.([]interface{})
		if !ok {
			v.fail(mcperrors.WrongType(path, "array", val))
			return
		}
		if p.MinItems > 0 && len(items) < p.MinItems {
			v.fail(mcperrors.TooShort(path, p.MinItems, len(items)))
		}
		if p.MaxItems > 0 && len(items) > p.MaxItems {
			v.fail(mcperrors.TooLong(path, p.MaxItems, len(items)))
		}
		if p.Items != nil {
			for i, item := range items {
				items[i] = v.value(fmt.Sprintf("%s[%d]", path, i), item, *p.Items)
			}
		}
	case TypeObject:
		obj, ok := val.(map[string]interface{})
		if !ok {
			v.fail(mcperrors.WrongType(path, "object", val))
			return
		}
		v.object(path, obj, p.Properties, p.AllowExtra)
	}
}

func (v *validator) stringBounds(path, s string, p Param) {
	n := utf8.RuneCountInString(s)
	if p.MinLength > 0 && n < p.MinLength {
		v.fail(mcperrors.TooShort(path, p.MinLength, n))
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		v.fail(mcperrors.TooLong(path, p.MaxLength, n))
	}
	if p.Pattern != "" {
		re, err := compilePattern(p.Pattern)
		if err != nil || !re.MatchString(s) {
			v.fail(mcperrors.PatternMismatch(path, p.Pattern))
		}
	}
}
