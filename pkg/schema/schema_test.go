package schema

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
)

var echoContract = &Contract{Params: []Param{
	{Name: "text", Type: TypeString, Required: true, MaxLength: 10},
}}

func fieldNames(err error) []string {
	var names []string
	for _, f := range mcperrors.FieldErrors(err) {
		names = append(names, f.Field)
	}
	return names
}

func TestValidateAcceptsConformingPayloadUnchanged(t *testing.T) {
	c := &Contract{Params: []Param{
		{Name: "text", Type: TypeString, Required: true, MaxLength: 10},
		{Name: "count", Type: TypeInteger, Minimum: Ptr(1.0), Maximum: Ptr(5.0)},
		{Name: "ratio", Type: TypeNumber},
		{Name: "mode", Type: TypeEnum, Enum: []string{"fast", "slow"}},
		{Name: "tags", Type: TypeArray, MaxItems: 3, Items: &Param{Type: TypeString}},
		{Name: "opts", Type: TypeObject, Properties: []Param{{Name: "deep", Type: TypeBoolean}}},
	}}
	require.NoError(t, c.Check())

	raw := `{"text":"hi","count":3,"ratio":0.25,"mode":"slow","tags":["a","b"],"opts":{"deep":true}}`
	args, err := Validate(c, json.RawMessage(raw))
	require.NoError(t, err)

	out, err := json.Marshal(args)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	assert.Equal(t, "hi", args.String("text"))
	assert.Equal(t, int64(3), args.Int("count", 0))
	assert.Equal(t, 0.25, args.Float("ratio", 0))
	assert.Equal(t, []string{"a", "b"}, args.Strings("tags"))
	assert.Equal(t, int64(9), args.Int("absent", 9))
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	_, err := Validate(echoContract, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	assert.Equal(t, []string{"text"}, fieldNames(err))
	assert.Contains(t, err.Error(), "text: required")
}

func TestValidateRejectsTooLong(t *testing.T) {
	_, err := Validate(echoContract, json.RawMessage(`{"text":"this is too long"}`))
	require.Error(t, err)
	assert.Equal(t, []string{"text"}, fieldNames(err))
	assert.Contains(t, err.Error(), "length 16 exceeds maximum 10")
}

func TestValidateCountsRunes(t *testing.T) {
	_, err := Validate(echoContract, json.RawMessage(`{"text":"héllo wörl"}`))
	assert.NoError(t, err, "ten runes, more than ten bytes")
}

func TestValidateCollectsEveryFailure(t *testing.T) {
	c := &Contract{Params: []Param{
		{Name: "a", Type: TypeString, Required: true},
		{Name: "b", Type: TypeInteger},
		{Name: "c", Type: TypeEnum, Enum: []string{"x"}},
		{Name: "d", Type: TypeString, Pattern: `^[a-z]+$`},
		{Name: "e", Type: TypeArray, MinItems: 2, Items: &Param{Type: TypeNumber, Maximum: Ptr(1.0)}},
		{Name: "f", Type: TypeObject, Properties: []Param{{Name: "g", Type: TypeBoolean, Required: true}}},
	}}

	_, err := Validate(c, json.RawMessage(`{"b":1.5,"c":"y","d":"ABC","e":[3],"f":{"z":1},"extra":true}`))
	require.Error(t, err)
	assert.ElementsMatch(t,
		[]string{"a", "b", "c", "d", "e", "e[0]", "f.g", "f.z", "extra"},
		fieldNames(err))
}

func TestValidateTypeMismatches(t *testing.T) {
	tests := []struct {
		param Param
		raw   string
	}{
		{Param{Name: "v", Type: TypeString}, `{"v":1}`},
		{Param{Name: "v", Type: TypeNumber}, `{"v":"1"}`},
		{Param{Name: "v", Type: TypeInteger}, `{"v":true}`},
		{Param{Name: "v", Type: TypeBoolean}, `{"v":"true"}`},
		{Param{Name: "v", Type: TypeArray}, `{"v":{}}`},
		{Param{Name: "v", Type: TypeObject}, `{"v":[]}`},
		{Param{Name: "v", Type: TypeEnum, Enum: []string{"a"}}, `{"v":null}`},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s<-%s", tt.param.Type, tt.raw), func(t *testing.T) {
			_, err := Validate(&Contract{Params: []Param{tt.param}}, json.RawMessage(tt.raw))
			require.Error(t, err)
			fields := mcperrors.FieldErrors(err)
			require.Len(t, fields, 1)
			assert.Equal(t, "type", fields[0].Constraint)
		})
	}
}

func TestValidateArgumentsShape(t *testing.T) {
	args, err := Validate(&Contract{}, nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = Validate(&Contract{}, json.RawMessage(`null`))
	assert.NoError(t, err)

	_, err = Validate(&Contract{}, json.RawMessage(`[1,2]`))
	assert.Equal(t, []string{"arguments"}, fieldNames(err))

	_, err = Validate(&Contract{}, json.RawMessage(`{"a":`))
	assert.Equal(t, []string{"arguments"}, fieldNames(err))
}

func TestAllowExtra(t *testing.T) {
	c := &Contract{AllowExtra: true, Params: []Param{{Name: "a", Type: TypeString}}}
	args, err := Validate(c, json.RawMessage(`{"a":"x","b":2}`))
	require.NoError(t, err)
	assert.True(t, args.Has("b"))
}

func TestIntegerAcceptsWholeFloats(t *testing.T) {
	c := &Contract{Params: []Param{{Name: "n", Type: TypeInteger}}}
	args, err := Validate(c, json.RawMessage(`{"n":2.0}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), args.Int("n", 0))
	assert.Equal(t, json.Number("2"), args["n"])
}

func TestIntegerLiteralsDecodeIntoIntFields(t *testing.T) {
	c := &Contract{Params: []Param{
		{Name: "offset", Type: TypeInteger},
		{Name: "ids", Type: TypeArray, Items: &Param{Type: TypeInteger}},
		{Name: "opts", Type: TypeObject, Properties: []Param{{Name: "depth", Type: TypeInteger}}},
	}}
	args, err := Validate(c, json.RawMessage(`{"offset":10.0,"ids":[1e2,3],"opts":{"depth":-4.0}}`))
	require.NoError(t, err)

	var out struct {
		Offset int64   `json:"offset"`
		IDs    []int64 `json:"ids"`
		Opts   struct {
			Depth int `json:"depth"`
		} `json:"opts"`
	}
	require.NoError(t, args.Decode(&out))
	assert.Equal(t, int64(10), out.Offset)
	assert.Equal(t, []int64{100, 3}, out.IDs)
	assert.Equal(t, -4, out.Opts.Depth)

	_, err = Validate(c, json.RawMessage(`{"offset":1e30}`))
	assert.Equal(t, []string{"offset"}, fieldNames(err))
}

func TestCheck(t *testing.T) {
	bad := []*Contract{
		{Params: []Param{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString}}},
		{Params: []Param{{Name: "a", Type: "date"}}},
		{Params: []Param{{Name: "a", Type: TypeEnum}}},
		{Params: []Param{{Name: "a", Type: TypeString, Pattern: "("}}},
		{Params: []Param{{Name: "a", Type: TypeNumber, Locator: true}}},
		{Params: []Param{{Name: "", Type: TypeString}}},
		{Params: []Param{{Name: "a", Type: TypeString, MinLength: 5, MaxLength: 2}}},
	}
	for i, c := range bad {
		assert.Error(t, c.Check(), "contract %d", i)
	}
}

func TestResolveLocators(t *testing.T) {
	c := &Contract{Params: []Param{
		{Name: "path", Type: TypeString, Locator: true},
		{Name: "more", Type: TypeArray, Items: &Param{Type: TypeString, Locator: true}},
		{Name: "nested", Type: TypeObject, Properties: []Param{{Name: "p", Type: TypeString, Locator: true}}},
		{Name: "label", Type: TypeString},
	}}
	require.True(t, c.HasLocators())

	args, err := Validate(c, json.RawMessage(`{"path":"a","more":["b","c"],"nested":{"p":"d"},"label":"keep"}`))
	require.NoError(t, err)

	var seen []string
	err = ResolveLocators(c, args, func(path, loc string) (string, error) {
		seen = append(seen, path)
		return "/root/" + loc, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"path", "more[0]", "more[1]", "nested.p"}, seen)
	assert.Equal(t, "/root/a", args.String("path"))
	assert.Equal(t, []string{"/root/b", "/root/c"}, args.Strings("more"))
	assert.Equal(t, "keep", args.String("label"))

	err = ResolveLocators(c, args, func(path, loc string) (string, error) {
		return "", fmt.Errorf("denied %s", path)
	})
	assert.EqualError(t, err, "denied path")
}

func TestJSONSchema(t *testing.T) {
	c := &Contract{Params: []Param{
		{Name: "text", Type: TypeString, Required: true, MaxLength: 10, Description: "Text to echo"},
		{Name: "path", Type: TypeString, Locator: true},
		{Name: "mode", Type: TypeEnum, Enum: []string{"a", "b"}},
		{Name: "n", Type: TypeInteger, Minimum: Ptr(0.0)},
	}}
	raw, err := c.JSONSchema()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"object",
		"properties":{
			"text":{"type":"string","description":"Text to echo","maxLength":10},
			"path":{"type":"string","format":"path"},
			"mode":{"type":"string","enum":["a","b"]},
			"n":{"type":"integer","minimum":0}
		},
		"required":["text"],
		"additionalProperties":false
	}`, string(raw))
}

type readArgs struct {
	Path   string   `json:"path" jsonschema:"format=path,description=File to read"`
	Limit  int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	Mode   string   `json:"mode,omitempty" jsonschema:"enum=text,enum=binary"`
	Extras []string `json:"extras,omitempty" jsonschema:"maxItems=2"`
}

func TestFromStruct(t *testing.T) {
	c, err := FromStruct[readArgs](false)
	require.NoError(t, err)
	require.Len(t, c.Params, 4)

	path := c.Params[0]
	assert.Equal(t, "path", path.Name)
	assert.True(t, path.Required)
	assert.True(t, path.Locator)

	limit := c.Params[1]
	assert.Equal(t, TypeInteger, limit.Type)
	assert.False(t, limit.Required)
	require.NotNil(t, limit.Maximum)
	assert.Equal(t, 100.0, *limit.Maximum)

	assert.Equal(t, TypeEnum, c.Params[2].Type)
	assert.Equal(t, []string{"text", "binary"}, c.Params[2].Enum)
	assert.Equal(t, 2, c.Params[3].MaxItems)

	_, err = Validate(c, json.RawMessage(`{"path":"x","limit":500,"mode":"hex"}`))
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"limit", "mode"}, fieldNames(err))

	args, err := Validate(c, json.RawMessage(`{"path":"x","limit":5}`))
	require.NoError(t, err)
	var decoded readArgs
	require.NoError(t, args.Decode(&decoded))
	assert.Equal(t, readArgs{Path: "x", Limit: 5}, decoded)
}

func TestFromStructRejectsNonStruct(t *testing.T) {
	_, err := FromStruct[string](false)
	assert.Error(t, err)
	assert.Panics(t, func() { MustFromStruct[int](false) })
	assert.True(t, MustFromStruct[readArgs](true).AllowExtra)
}
