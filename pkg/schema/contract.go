// Package schema validates tool arguments against a declared parameter
// contract. Validation is total: every offending field is reported, unknown
// fields are rejected unless the contract allows passthrough, and nothing is
// coerced.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/invopop/jsonschema"
)

// Type is the JSON type of a parameter
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeEnum    Type = "enum"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Param declares one argument
type Param struct {
	Name        string
	Type        Type
	Description string
	Required    bool

	// String bounds, counted in runes. Zero MaxLength means unbounded.
	MinLength int
	MaxLength int
	Pattern   string

	// Number bounds
	Minimum *float64
	Maximum *float64

	// Enum values, for TypeEnum
	Enum []string

	// Array bounds and element contract. Zero MaxItems means unbounded.
	MinItems int
	MaxItems int
	Items    *Param

	// Nested object fields
	Properties []Param
	AllowExtra bool

	// Locator marks a string (or array of strings) as a filesystem locator
	// that must pass the sandbox before the handler sees it.
	Locator bool
}

// Contract is the full argument contract of a tool
type Contract struct {
	Params []Param
	// AllowExtra passes unknown top-level fields through instead of
	// rejecting them
	AllowExtra bool
}

// Ptr returns a pointer to v, for the optional numeric bounds
func Ptr[T any](v T) *T {
	return &v
}

// Check verifies that the contract itself is well-formed: names are unique,
// patterns compile and enums are non-empty.
func (c *Contract) Check() error {
	return checkParams("", c.Params)
}

func checkParams(prefix string, params []Param) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		path := joinPath(prefix, p.Name)
		if p.Name == "" {
			return fmt.Errorf("parameter under %q has no name", prefix)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", path)
		}
		seen[p.Name] = true
		if err := checkParam(path, p); err != nil {
			return err
		}
	}
	return nil
}

func checkParam(path string, p Param) error {
	switch p.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean:
	case TypeEnum:
		if len(p.Enum) == 0 {
			return fmt.Errorf("enum parameter %q has no values", path)
		}
	case TypeArray:
		if p.Items != nil {
			if err := checkParam(path+"[]", *p.Items); err != nil {
				return err
			}
		}
	case TypeObject:
		if err := checkParams(path, p.Properties); err != nil {
			return err
		}
	default:
		return fmt.Errorf("parameter %q has unknown type %q", path, p.Type)
	}
	if p.Pattern != "" {
		if _, err := compilePattern(p.Pattern); err != nil {
			return fmt.Errorf("parameter %q: %w", path, err)
		}
	}
	if p.Locator && p.Type != TypeString && !(p.Type == TypeArray && p.Items != nil && p.Items.Type == TypeString) {
		return fmt.Errorf("locator parameter %q must be a string or an array of strings", path)
	}
	if p.MaxLength > 0 && p.MinLength > p.MaxLength {
		return fmt.Errorf("parameter %q: minLength exceeds maxLength", path)
	}
	return nil
}

var patternCache sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// JSONSchema renders the contract as a JSON Schema object for tools/list
func (c *Contract) JSONSchema() (json.RawMessage, error) {
	s := objectSchema(c.Params, c.AllowExtra)
	return json.Marshal(s)
}

func objectSchema(params []Param, allowExtra bool) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, p := range params {
		s.Properties.Set(p.Name, paramSchema(p))
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	if !allowExtra {
		s.AdditionalProperties = jsonschema.FalseSchema
	}
	return s
}

func paramSchema(p Param) *jsonschema.Schema {
	if p.Type == TypeObject {
		s := objectSchema(p.Properties, p.AllowExtra)
		s.Description = p.Description
		return s
	}

	s := &jsonschema.Schema{Type: string(p.Type), Description: p.Description}
	switch p.Type {
	case TypeEnum:
		s.Type = "string"
		for _, v := range p.Enum {
			s.Enum = append(s.Enum, v)
		}
	case TypeString:
		if p.MinLength > 0 {
			s.MinLength = Ptr(uint64(p.MinLength))
		}
		if p.MaxLength > 0 {
			s.MaxLength = Ptr(uint64(p.MaxLength))
		}
		s.Pattern = p.Pattern
		if p.Locator {
			s.Format = locatorFormat
		}
	case TypeNumber, TypeInteger:
		if p.Minimum != nil {
			s.Minimum = formatNumber(*p.Minimum)
		}
		if p.Maximum != nil {
			s.Maximum = formatNumber(*p.Maximum)
		}
	case TypeArray:
		if p.MinItems > 0 {
			s.MinItems = Ptr(uint64(p.MinItems))
		}
		if p.MaxItems > 0 {
			s.MaxItems = Ptr(uint64(p.MaxItems))
		}
		if p.Items != nil {
			item := *p.Items
			if p.Locator {
				item.Locator = true
			}
			s.Items = paramSchema(item)
		}
	}
	return s
}

// locatorFormat is the JSON Schema format that marks a locator parameter
const locatorFormat = "path"

func formatNumber(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
