// Package resolver maps REST-like murl URLs onto MCP JSON-RPC requests.
package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/murl-dev/murl/schema"
)

// virtualPath locates the MCP segment of a URL: everything from the first
// /tools, /resources or /prompts segment to the end of the path.
var virtualPath = regexp.MustCompile(`/(tools|resources|prompts)(/.*)?$`)

// Header is a single request header; order of repeated -H flags is preserved.
type Header struct {
	Name  string
	Value string
}

// Spec is the resolved request: endpoint, MCP method and parameter object.
// It is built once per invocation and not mutated afterwards.
type Spec struct {
	BaseURL string
	Method  string
	Params  map[string]interface{}
	Headers []Header
}

// Resolve splits a murl URL into base endpoint and virtual path, coerces the
// data flags and produces the request spec. It performs no network I/O.
func Resolve(rawURL string, dataFlags, headerFlags []string) (*Spec, error) {
	loc := virtualPath.FindStringIndex(rawURL)
	if loc == nil {
		return nil, fmt.Errorf("invalid MCP URL %q: must contain /tools, /resources or /prompts", rawURL)
	}
	baseURL, virtual := rawURL[:loc[0]], rawURL[loc[0]:]

	data, err := ParseData(dataFlags)
	if err != nil {
		return nil, err
	}
	headers, err := ParseHeaders(headerFlags)
	if err != nil {
		return nil, err
	}
	method, params, err := mapVirtualPath(virtual, data)
	if err != nil {
		return nil, err
	}
	return &Spec{BaseURL: baseURL, Method: method, Params: params, Headers: headers}, nil
}

// mapVirtualPath applies the path-to-method table, most specific first.
func mapVirtualPath(virtual string, data map[string]interface{}) (string, map[string]interface{}, error) {
	parts := strings.Split(strings.Trim(virtual, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, fmt.Errorf("invalid virtual path %q", virtual)
	}
	switch category := parts[0]; category {
	case "tools":
		if len(parts) == 1 {
			return schema.MethodToolsList, map[string]interface{}{}, nil
		}
		return schema.MethodToolsCall, map[string]interface{}{
			"name":      parts[1],
			"arguments": data,
		}, nil
	case "prompts":
		if len(parts) == 1 {
			return schema.MethodPromptsList, map[string]interface{}{}, nil
		}
		return schema.MethodPromptsGet, map[string]interface{}{
			"name":      parts[1],
			"arguments": data,
		}, nil
	case "resources":
		if len(parts) == 1 {
			return schema.MethodResourcesList, map[string]interface{}{}, nil
		}
		filePath := strings.Join(parts[1:], "/")
		if filePath == "" {
			return "", nil, fmt.Errorf("invalid resources path: path cannot be empty after /resources/")
		}
		params := map[string]interface{}{"uri": "file:///" + filePath}
		for key, value := range data {
			params[key] = value
		}
		return schema.MethodResourcesRead, params, nil
	default:
		return "", nil, fmt.Errorf("invalid MCP category %q", category)
	}
}

// ParseHeaders parses repeated -H flags of the form "Key: Value".
func ParseHeaders(headerFlags []string) ([]Header, error) {
	var headers []Header
	for _, raw := range headerFlags {
		name, value, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header format %q: expected 'Key: Value'", raw)
		}
		headers = append(headers, Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return headers, nil
}
