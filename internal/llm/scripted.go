package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedResponse is one canned completion for the ScriptedCompleter.
type ScriptedResponse struct {
	Content string
	Err     error
}

// ScriptedCompleter is a deterministic Completer for tests. It returns
// canned responses in FIFO order and records every prompt it receives.
type ScriptedCompleter struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	Prompts   []string
}

// NewScriptedCompleter creates a ScriptedCompleter with the given responses.
func NewScriptedCompleter(responses ...ScriptedResponse) *ScriptedCompleter {
	return &ScriptedCompleter{responses: responses}
}

// Complete returns the next canned response, or an error when the script is
// exhausted.
func (s *ScriptedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)

	if len(s.responses) == 0 {
		return "", fmt.Errorf("scripted completer: no responses left (call %d)", len(s.Prompts))
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	if resp.Err != nil {
		return "", resp.Err
	}
	return resp.Content, nil
}

// Add appends a canned response to the script.
func (s *ScriptedCompleter) Add(resp ScriptedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
}

// CallCount returns the number of Complete calls made so far.
func (s *ScriptedCompleter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}
