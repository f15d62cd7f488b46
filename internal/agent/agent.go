// Package agent orchestrates the conversation: it drives the LLM
// tool-calling loop over the registered capabilities and keeps
// per-session context.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veramoney/assistant/internal/agent/tool"
	"github.com/veramoney/assistant/internal/domain"
)

// DefaultSystemPrompt frames the assistant for the model.
const DefaultSystemPrompt = "You are Vera, the virtual assistant of VeraMoney, a fintech " +
	"company. Answer in the user's language, concisely and accurately. Use the available " +
	"tools for weather, stock quotes and questions about the company or financial " +
	"regulation. When you use knowledge base results, ground your answer in them."

// fallbackReply is returned when the loop exhausts its iteration budget.
const fallbackReply = "I'm sorry, I couldn't complete that request right now. " +
	"Could you rephrase or try again?"

// Memory keeps conversation history per session.
type Memory interface {
	NewSession() string
	History(sessionID string) []Message
	Append(sessionID string, msgs ...Message)
}

// Reply is the outcome of one chat turn.
type Reply struct {
	SessionID string
	Text      string
	Citations []domain.Citation
}

// Agent runs the tool-calling loop.
type Agent struct {
	model         ChatModel
	tools         *tool.Registry
	memory        Memory
	systemPrompt  string
	maxIterations int
	logger        *zap.Logger
}

// Config wires agent collaborators.
type Config struct {
	Model  ChatModel
	Tools  *tool.Registry
	Memory Memory
	// SystemPrompt overrides DefaultSystemPrompt when set.
	SystemPrompt string
	// MaxIterations bounds model round-trips per chat turn.
	MaxIterations int
	Logger        *zap.Logger
}

// New creates an agent.
func New(cfg Config) *Agent {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		model:         cfg.Model,
		tools:         cfg.Tools,
		memory:        cfg.Memory,
		systemPrompt:  prompt,
		maxIterations: maxIter,
		logger:        logger,
	}
}

// Chat handles one user turn. An empty session id starts a new session.
func (a *Agent) Chat(ctx context.Context, sessionID, userText string) (Reply, error) {
	if userText == "" {
		return Reply{}, fmt.Errorf("message is empty: %w", domain.ErrValidation)
	}
	if sessionID == "" {
		sessionID = a.memory.NewSession()
	}

	userMsg := Message{Role: RoleUser, Content: userText}
	messages := make([]Message, 0, len(a.memory.History(sessionID))+2)
	messages = append(messages, Message{Role: RoleSystem, Content: a.systemPrompt})
	messages = append(messages, a.memory.History(sessionID)...)
	messages = append(messages, userMsg)

	specs := a.toolSpecs()
	var citations []domain.Citation

	for i := 0; i < a.maxIterations; i++ {
		resp, err := a.model.Complete(ctx, messages, specs)
		if err != nil {
			return Reply{}, fmt.Errorf("model completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			a.memory.Append(sessionID, userMsg, Message{Role: RoleAssistant, Content: resp.Content})
			return Reply{SessionID: sessionID, Text: resp.Content, Citations: citations}, nil
		}

		messages = append(messages, resp)
		results := a.dispatch(ctx, resp.ToolCalls)
		for j, tc := range resp.ToolCalls {
			citations = appendCitations(citations, tc.Name, results[j])
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    results[j],
				ToolCallID: tc.ID,
			})
		}
	}

	a.logger.Warn("tool loop exhausted iteration budget",
		zap.String("session_id", sessionID),
		zap.Int("iterations", a.maxIterations))
	a.memory.Append(sessionID, userMsg, Message{Role: RoleAssistant, Content: fallbackReply})
	return Reply{SessionID: sessionID, Text: fallbackReply, Citations: citations}, nil
}

// dispatch runs independent tool calls concurrently and joins results
// in call order.
func (a *Agent) dispatch(ctx context.Context, calls []ToolCall) []string {
	results := make([]string, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			t, ok := a.tools.Get(call.Name)
			if !ok {
				a.logger.Warn("model requested unknown tool", zap.String("tool", call.Name))
				results[i] = fmt.Sprintf("Tool %q is not available.", call.Name)
				return nil
			}
			out, err := t.Invoke(gctx, call.Arguments)
			if err != nil {
				// tools are normally wrapped so this does not happen;
				// degrade rather than break the turn
				results[i] = fmt.Sprintf("The %s tool failed. Please try again later.", call.Name)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	g.Wait()
	return results
}

func (a *Agent) toolSpecs() []ToolSpec {
	all := a.tools.All()
	specs := make([]ToolSpec, 0, len(all))
	for _, t := range all {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// appendCitations extracts source citations from knowledge tool output.
func appendCitations(citations []domain.Citation, toolName, result string) []domain.Citation {
	if toolName != "search_knowledge" {
		return citations
	}
	var out struct {
		Chunks []struct {
			Content       string `json:"content"`
			DocumentTitle string `json:"document_title"`
		} `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		return citations
	}

	seen := make(map[string]bool, len(citations))
	for _, c := range citations {
		seen[c.DocumentTitle] = true
	}
	for _, chunk := range out.Chunks {
		if chunk.DocumentTitle == "" || seen[chunk.DocumentTitle] {
			continue
		}
		seen[chunk.DocumentTitle] = true
		citations = append(citations, domain.NewCitation(chunk.DocumentTitle, chunk.Content))
	}
	return citations
}
