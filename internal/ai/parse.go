package ai

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed response_schema.json
var responseSchemaJSON []byte

var (
	schemaOnce     sync.Once
	responseSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("response.json", bytes.NewReader(responseSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load response schema: %w", err)
			return
		}
		responseSchema, schemaErr = compiler.Compile("response.json")
	})
	return responseSchema, schemaErr
}

// ParsedResponse is the model output before cardinality is enforced.
type ParsedResponse struct {
	GeneralStatement string
	Suggestions      []any
	// Structured is false when the heuristic text fallback was used.
	Structured bool
}

// ParseResponse extracts the rationale and raw suggestions from content.
// It accepts the expected JSON object, optionally fenced or surrounded by
// prose. Anything else falls back to bullet and numbered lines, and finally
// to the whole content as a single suggestion. Empty content is
// ErrInvalidResponse.
func ParseResponse(content string) (ParsedResponse, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ParsedResponse{}, fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}

	schema, err := compiledSchema()
	if err != nil {
		return ParsedResponse{}, err
	}

	for _, candidate := range jsonCandidates(content) {
		var doc any
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			continue
		}
		if err := schema.Validate(doc); err != nil {
			continue
		}
		obj := doc.(map[string]any)
		statement, _ := obj["general_statement"].(string)
		return ParsedResponse{
			GeneralStatement: strings.TrimSpace(statement),
			Suggestions:      asSuggestionList(obj["suggestions"]),
			Structured:       true,
		}, nil
	}

	suggestions := listItems(content)
	if len(suggestions) == 0 {
		suggestions = []any{content}
	}
	return ParsedResponse{GeneralStatement: content, Suggestions: suggestions}, nil
}

// jsonCandidates returns the distinct substrings of content that may hold
// the JSON object.
func jsonCandidates(content string) []string {
	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONObject(content); extracted != "" {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

// asSuggestionList wraps a scalar in a list. Null and "" become an empty list.
func asSuggestionList(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		return val
	case string:
		if strings.TrimSpace(val) == "" {
			return []any{}
		}
		return []any{val}
	default:
		return []any{val}
	}
}

// listItems collects "- ", "* ", "• " bullets and "1. " numbered lines.
func listItems(content string) []any {
	var items []any
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		var item string
		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			item = line[2:]
		case strings.HasPrefix(line, "• "):
			item = strings.TrimPrefix(line, "• ")
		case line != "" && unicode.IsDigit(rune(line[0])) && strings.Contains(line, ". "):
			item = line[strings.Index(line, ". ")+2:]
		default:
			continue
		}
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
