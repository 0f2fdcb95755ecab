package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// FromStruct reflects a contract from the JSON and jsonschema tags of T.
// A string field tagged `jsonschema:"format=path"` becomes a locator.
//
//	type readArgs struct {
//		Path  string `json:"path" jsonschema:"format=path,description=File to read"`
//		Limit int    `json:"limit,omitempty" jsonschema:"minimum=1"`
//	}
func FromStruct[T any](allowExtra bool) (*Contract, error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowExtra,
	}
	s := r.Reflect(new(T))
	if s == nil || s.Type != "object" {
		return nil, fmt.Errorf("contract type %T must be a struct", *new(T))
	}

	params, err := paramsFromSchema("", s)
	if err != nil {
		return nil, err
	}
	c := &Contract{Params: params, AllowExtra: allowExtra}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustFromStruct is FromStruct that panics on error, for package-level
// tool definitions
func MustFromStruct[T any](allowExtra bool) *Contract {
	c, err := FromStruct[T](allowExtra)
	if err != nil {
		panic(err)
	}
	return c
}

func paramsFromSchema(prefix string, s *jsonschema.Schema) ([]Param, error) {
	if s.Properties == nil {
		return nil, nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	var params []Param
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		p, err := paramFromSchema(joinPath(prefix, el.Key), el.Value)
		if err != nil {
			return nil, err
		}
		p.Name = el.Key
		p.Required = required[el.Key]
		params = append(params, p)
	}
	return params, nil
}

func paramFromSchema(path string, s *jsonschema.Schema) (Param, error) {
	p := Param{Type: Type(s.Type), Description: s.Description}

	switch p.Type {
	case TypeString:
		if len(s.Enum) > 0 {
			p.Type = TypeEnum
			for _, v := range s.Enum {
				p.Enum = append(p.Enum, fmt.Sprint(v))
			}
		}
		if s.MinLength != nil {
			p.MinLength = int(*s.MinLength)
		}
		if s.MaxLength != nil {
			p.MaxLength = int(*s.MaxLength)
		}
		p.Pattern = s.Pattern
		p.Locator = s.Format == locatorFormat
	case TypeNumber, TypeInteger:
		if s.Minimum != "" {
			f, err := s.Minimum.Float64()
			if err != nil {
				return p, fmt.Errorf("parameter %q: minimum: %w", path, err)
			}
			p.Minimum = Ptr(f)
		}
		if s.Maximum != "" {
			f, err := s.Maximum.Float64()
			if err != nil {
				return p, fmt.Errorf("parameter %q: maximum: %w", path, err)
			}
			p.Maximum = Ptr(f)
		}
	case TypeBoolean:
	case TypeArray:
		if s.MinItems != nil {
			p.MinItems = int(*s.MinItems)
		}
		if s.MaxItems != nil {
			p.MaxItems = int(*s.MaxItems)
		}
		if s.Items != nil {
			item, err := paramFromSchema(path+"[]", s.Items)
			if err != nil {
				return p, err
			}
			p.Items = &item
			p.Locator = item.Locator
		}
	case TypeObject:
		props, err := paramsFromSchema(path, s)
		if err != nil {
			return p, err
		}
		p.Properties = props
		p.AllowExtra = s.AdditionalProperties != jsonschema.FalseSchema
	default:
		return p, fmt.Errorf("parameter %q: unsupported schema type %q", path, s.Type)
	}
	return p, nil
}
