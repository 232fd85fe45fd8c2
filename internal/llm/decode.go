package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema describes the JSON shape a structured completion must conform to.
type Schema struct {
	// Name identifies the schema, kebab-case, e.g. "question-set".
	Name string

	// Description tells the model what the shape represents.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// FormatError means the gateway exhausted its repair attempts without
// obtaining schema-conformant output. It carries the last raw output and the
// last validation error for caller-level reporting.
type FormatError struct {
	Schema     string
	Attempts   int
	LastOutput string
	Err        error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("LLM output did not match schema %q after %d attempts: %v", e.Schema, e.Attempts, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// DecodeStructured sends a prompt and decodes the completion into out,
// validating against the schema. On parse or validation failure it
// re-prompts with the invalid output and the specific error, up to
// maxAttempts total tries. A per-attempt timeout counts as a failed attempt;
// caller cancellation aborts immediately. It never returns a partially
// valid value: the result is either a validated decode or a *FormatError.
func DecodeStructured(ctx context.Context, c Completer, prompt string, target *Schema, out any, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	attemptPrompt := prompt
	var lastOutput string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.Complete(ctx, attemptPrompt)
		if err != nil {
			if ctx.Err() != nil {
				// Caller aborted; abandon without retry.
				return ctx.Err()
			}
			lastErr = err
			slog.Debug("completion attempt failed", "schema", target.Name, "attempt", attempt, "error", err)
			attemptPrompt = prompt
			continue
		}

		cleaned := StripFences(raw)
		lastOutput = cleaned

		if err := decodeAndValidate(target, cleaned, out); err != nil {
			lastErr = err
			slog.Debug("structured decode failed", "schema", target.Name, "attempt", attempt, "error", err)
			attemptPrompt = repairPrompt(prompt, target, cleaned, err)
			continue
		}

		return nil
	}

	return &FormatError{
		Schema:     target.Name,
		Attempts:   maxAttempts,
		LastOutput: lastOutput,
		Err:        lastErr,
	}
}

// decodeAndValidate parses raw JSON, checks it against the schema, and
// unmarshals it into out.
func decodeAndValidate(target *Schema, raw string, out any) error {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	compiled, err := compiledSchema(target)
	if err != nil {
		return fmt.Errorf("compile schema %q: %w", target.Name, err)
	}
	if err := compiled.Validate(parsed); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return json.Unmarshal([]byte(raw), out)
}

// repairPrompt shows the model its own mistake: the invalid output, the
// specific validation error, and the required shape restated.
func repairPrompt(original string, target *Schema, invalid string, cause error) string {
	def, _ := json.Marshal(target.Definition)

	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nYour previous response was invalid.\n\nPREVIOUS RESPONSE:\n")
	sb.WriteString(invalid)
	sb.WriteString("\n\nERROR:\n")
	sb.WriteString(cause.Error())
	sb.WriteString("\n\nThe response MUST be a single JSON object conforming to this JSON Schema:\n")
	sb.Write(def)
	sb.WriteString("\n\nIMPORTANT: Return ONLY valid JSON. No markdown, no code blocks, no additional text.")
	return sb.String()
}

// StripFences removes a surrounding markdown code block, which models emit
// despite instructions not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var schemaCache sync.Map // map[string]*jsonschema.Schema

// compiledSchema returns a cached compiled schema or compiles and caches it.
func compiledSchema(target *Schema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(target.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The jsonschema library wants a parsed JSON value, not a Go map with
	// arbitrary types. Round-trip through encoding/json to normalize.
	defBytes, err := json.Marshal(target.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	schemaURL := fmt.Sprintf("schema://%s.json", target.Name)
	if err := c.AddResource(schemaURL, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	schemaCache.Store(target.Name, compiled)
	return compiled, nil
}
