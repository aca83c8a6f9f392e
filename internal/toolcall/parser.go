// Package toolcall extracts function-call style actions from model output.
//
// A tool call is a JSON object {"name": ..., "arguments": {...}} wrapped in a
// tag pair such as <tool_call>...</tool_call>.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
)

// ErrorName is returned as the tool name whenever parsing fails.
const ErrorName = "-ERROR-"

const DefaultTag = "tool_call"

// Tool describes a callable function in the OpenAI tools schema.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

var (
	patternMu sync.Mutex
	patterns  = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	re, ok := patterns[tag]
	if !ok {
		q := regexp.QuoteMeta(tag)
		re = regexp.MustCompile(`(?s)<` + q + `>(.*?)</` + q + `>`)
		patterns[tag] = re
	}
	return re
}

// Extract returns the trimmed body of the first tag pair found, trying tags in
// order. It returns false when no tag pair is present or the body is empty.
func Extract(text string, tags []string) (string, bool) {
	if len(tags) == 0 {
		tags = []string{DefaultTag}
	}
	for _, tag := range tags {
		m := tagPattern(tag).FindStringSubmatch(text)
		if m == nil {
			continue
		}
		body := strings.TrimSpace(m[1])
		if body == "" {
			return "", false
		}
		return body, true
	}
	return "", false
}

// Parse extracts and validates a tool call. When tools is non-empty the call
// name must match one of them. Parse never panics; every failure is reported
// as (ErrorName, args, true) where args may be empty.
func Parse(text string, tools []Tool, tags []string) (string, map[string]any, bool) {
	body, ok := Extract(text, tags)
	if !ok {
		return ErrorName, map[string]any{}, true
	}

	body = strings.ReplaceAll(body, "'", `"`)

	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return ErrorName, map[string]any{}, true
	}
	call, ok := raw.(map[string]any)
	if !ok {
		return ErrorName, map[string]any{}, true
	}

	name, _ := call["name"].(string)
	args, ok := call["arguments"].(map[string]any)
	if !ok {
		args = map[string]any{}
	}

	if len(tools) > 0 && (name == "" || !hasTool(tools, name)) {
		return ErrorName, args, true
	}
	return name, args, false
}

func hasTool(tools []Tool, name string) bool {
	for _, t := range tools {
		if t.Function.Name == name {
			return true
		}
	}
	return false
}
