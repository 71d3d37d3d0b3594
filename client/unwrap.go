package client

import (
	"encoding/json"

	"github.com/murl-dev/murl/schema"
)

// resultMembers names the result member each method's payload lives under.
// A missing member leaves the raw result untouched.
var resultMembers = map[string]string{
	schema.MethodToolsList:     "tools",
	schema.MethodToolsCall:     "content",
	schema.MethodResourcesList: "resources",
	schema.MethodResourcesRead: "contents",
	schema.MethodPromptsList:   "prompts",
	schema.MethodPromptsGet:    "messages",
}

func unwrapResult(method string, raw json.RawMessage) json.RawMessage {
	member, ok := resultMembers[method]
	if !ok || len(raw) == 0 {
		return raw
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if value, ok := envelope[member]; ok {
		return value
	}
	return raw
}
