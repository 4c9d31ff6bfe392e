package testsupport

import (
	"context"
	"fmt"
	"sync"

	"shelfscan/internal/llm"
)

// ModelResponse is one scripted completion.
type ModelResponse struct {
	Content string
	Usage   llm.Usage
	Err     error
}

// ModelCall records the prompts of one completion request.
type ModelCall struct {
	System string
	User   string
	Images int
}

// Model is a scripted language model. Responses are consumed in order;
// running past the script fails the call. It satisfies both llm.Completer
// and llm.VisionCompleter.
type Model struct {
	mu        sync.Mutex
	responses []ModelResponse
	calls     []ModelCall
}

// NewModel returns a model that replays the given responses in order.
func NewModel(responses ...ModelResponse) *Model {
	return &Model{responses: responses}
}

// Script appends further responses to the replay queue.
func (m *Model) Script(responses ...ModelResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Calls returns the requests received so far.
func (m *Model) Calls() []ModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelCall(nil), m.calls...)
}

func (m *Model) next(call ModelCall) (string, llm.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if len(m.responses) == 0 {
		return "", llm.Usage{}, fmt.Errorf("testsupport: model script exhausted after %d calls", len(m.calls))
	}
	response := m.responses[0]
	m.responses = m.responses[1:]
	return response.Content, response.Usage, response.Err
}

func (m *Model) CompleteJSON(_ context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error) {
	return m.next(ModelCall{System: systemPrompt, User: userPrompt})
}

func (m *Model) CompleteVisionJSON(_ context.Context, systemPrompt, userPrompt string, images [][]byte) (string, llm.Usage, error) {
	return m.next(ModelCall{System: systemPrompt, User: userPrompt, Images: len(images)})
}
