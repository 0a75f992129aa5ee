package mcp

import (
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/testutil"
)

func TestJSONResult(t *testing.T) {
	res := jsonResult(map[string]int{"jobs_new": 3})
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Equal(t, 3, decoded["jobs_new"])
}

func TestErrorResult(t *testing.T) {
	res := errorResult("run not found")
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Equal(t, "run not found", text.Text)
}

func TestNewRegistersTools(t *testing.T) {
	// Tool registration must not require a live database.
	s := New(nil, nil, scraper.NewRegistry(), testutil.TestLogger())
	require.NotNil(t, s.MCPServer())
}
