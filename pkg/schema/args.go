package schema

import (
	"encoding/json"
	"fmt"
)

// Args are validated arguments. Numbers are kept as json.Number so the
// payload round-trips exactly as the caller sent it.
type Args map[string]interface{}

// String returns a string argument, or "" if absent
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Bool returns a boolean argument, or false if absent
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Int returns an integer argument, or def if absent
func (a Args) Int(name string, def int64) int64 {
	n, ok := a[name].(json.Number)
	if !ok {
		return def
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil {
		return def
	}
	return int64(f)
}

// Float returns a number argument, or def if absent
func (a Args) Float(name string, def float64) float64 {
	n, ok := a[name].(json.Number)
	if !ok {
		return def
	}
	f, err := n.Float64()
	if err != nil {
		return def
	}
	return f
}

// Strings returns an array-of-strings argument
func (a Args) Strings(name string) []string {
	items, _ := a[name].([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether the argument was supplied
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Decode copies the arguments into a struct via its JSON tags
func (a Args) Decode(target interface{}) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// ResolveFunc maps a locator value to its resolved form
type ResolveFunc func(path, locator string) (string, error)

// ResolveLocators passes every argument the contract marks as a locator
// through resolve and stores the result back into args. It stops at the
// first failure.
func ResolveLocators(c *Contract, args Args, resolve ResolveFunc) error {
	return resolveIn("", args, c.Params, resolve)
}

func resolveIn(prefix string, obj map[string]interface{}, params []Param, resolve ResolveFunc) error {
	for _, p := range params {
		val, ok := obj[p.Name]
		if !ok {
			continue
		}
		path := joinPath(prefix, p.Name)
		switch {
		case p.Type == TypeString && p.Locator:
			s, _ := val.(string)
			resolved, err := resolve(path, s)
			if err != nil {
				return err
			}
			obj[p.Name] = resolved
		case p.Type == TypeArray && p.Items != nil && (p.Locator || p.Items.Locator):
			items, _ := val.([]interface{})
			for i, it := range items {
				s, _ := it.(string)
				resolved, err := resolve(fmt.Sprintf("%s[%d]", path, i), s)
				if err != nil {
					return err
				}
				items[i] = resolved
			}
		case p.Type == TypeObject:
			nested, _ := val.(map[string]interface{})
			if err := resolveIn(path, nested, p.Properties, resolve); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasLocators reports whether any parameter is a locator
func (c *Contract) HasLocators() bool {
	return hasLocators(c.Params)
}

func hasLocators(params []Param) bool {
	for _, p := range params {
		if p.Locator || (p.Items != nil && p.Items.Locator) || hasLocators(p.Properties) {
			return true
		}
	}
	return false
}
