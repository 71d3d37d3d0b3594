package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/murl-dev/murl/schema"
)

func TestUnwrapResult(t *testing.T) {
	testCases := []struct {
		description string
		method      string
		raw         string
		expect      string
	}{
		{
			description: "tools list payload",
			method:      schema.MethodToolsList,
			raw:         `{"tools":[{"name":"a"}],"nextCursor":"x"}`,
			expect:      `[{"name":"a"}]`,
		},
		{
			description: "tools call payload",
			method:      schema.MethodToolsCall,
			raw:         `{"content":[{"type":"text","text":"ok"}],"isError":false}`,
			expect:      `[{"type":"text","text":"ok"}]`,
		},
		{
			description: "resources read payload",
			method:      schema.MethodResourcesRead,
			raw:         `{"contents":[{"uri":"file:///a","text":"b"}]}`,
			expect:      `[{"uri":"file:///a","text":"b"}]`,
		},
		{
			description: "prompts get payload",
			method:      schema.MethodPromptsGet,
			raw:         `{"messages":[{"role":"user"}]}`,
			expect:      `[{"role":"user"}]`,
		},
		{
			description: "missing member keeps the raw result",
			method:      schema.MethodToolsList,
			raw:         `{"unexpected":true}`,
			expect:      `{"unexpected":true}`,
		},
		{
			description: "unknown method keeps the raw result",
			method:      "ping",
			raw:         `{"ok":true}`,
			expect:      `{"ok":true}`,
		},
		{
			description: "non-object result keeps the raw result",
			method:      schema.MethodToolsList,
			raw:         `[1,2,3]`,
			expect:      `[1,2,3]`,
		},
	}
	for _, testCase := range testCases {
		actual := unwrapResult(testCase.method, json.RawMessage(testCase.raw))
		assert.JSONEq(t, testCase.expect, string(actual), testCase.description)
	}
}
