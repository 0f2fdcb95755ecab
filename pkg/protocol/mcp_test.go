package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedVersions(t *testing.T) {
	assert.Equal(t, ProtocolRevision, SupportedProtocolVersions[0])
	assert.True(t, IsSupportedVersion("2024-11-05"))
	assert.False(t, IsSupportedVersion("2023-01-01"))
	assert.False(t, IsSupportedVersion(""))
}

func TestInitializeParamsWireShape(t *testing.T) {
	params := InitializeParams{
		ProtocolVersion: ProtocolRevision,
		Capabilities: Capabilities{
			Provides: map[Category]CapabilityFlags{CategoryTools: {ListChanged: true}},
			Consumes: map[Category]CapabilityFlags{CategoryResources: {}},
		},
		Info: Implementation{Name: "toolwire", Version: "0.1.0"},
	}
	data, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"protocolVersion": "2025-03-26",
		"capabilities": {
			"provides": {"tools": {"listChanged": true}},
			"consumes": {"resources": {}}
		},
		"info": {"name": "toolwire", "version": "0.1.0"}
	}`, string(data))
}

func TestProgressTokenIsOptional(t *testing.T) {
	var params CallToolParams
	require.NoError(t, json.Unmarshal([]byte(`{"name":"echo","arguments":{"text":"x"}}`), &params))
	assert.Nil(t, params.Meta)

	require.NoError(t, json.Unmarshal([]byte(`{"name":"echo","_meta":{"progressToken":7}}`), &params))
	require.NotNil(t, params.Meta)
	require.NotNil(t, params.Meta.ProgressToken)
	assert.Equal(t, "#7", params.Meta.ProgressToken.String())
}

func TestContentSize(t *testing.T) {
	assert.Equal(t, 5, TextContent("hello").Size())
	assert.Equal(t, 3, BinaryContent([]byte{1, 2, 3}, "application/octet-stream").Size())
}

func TestCallToolResultText(t *testing.T) {
	res := &CallToolResult{Content: []Content{
		TextContent("a"),
		BinaryContent([]byte{1}, "application/octet-stream"),
		TextContent("b"),
	}}
	assert.Equal(t, "ab", res.Text())
	assert.Empty(t, (&CallToolResult{}).Text())
}
