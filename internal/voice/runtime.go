// Package voice implements the conversational runtime that turns recognized user
// speech into model turns, tool calls and spoken replies.
package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/dialog"
	"github.com/capitalize-ai/voice-configurator/internal/llm"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

// Invoker executes tool calls requested by the model.
type Invoker interface {
	Invoke(ctx context.Context, call dialog.ToolCall) (string, error)
}

// Speaker renders agent text to the user.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) error

// Speak implements Speaker.
func (f SpeakerFunc) Speak(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Config tunes model requests.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxToolRounds int
	// ForceToolChoice makes a preferred tool mandatory instead of a hint.
	ForceToolChoice bool
}

const defaultMaxToolRounds = 4

// Runtime drives one conversation. Turns are serialized; scope changes apply from the
// next model request on.
type Runtime struct {
	client  llm.Client
	speaker Speaker
	cfg     Config
	logger  *logger.Logger

	scopeMu sync.RWMutex
	scope   dialog.Scope
	invoker Invoker

	turnMu  sync.Mutex
	history []llm.ChatMessage
}

// New creates a runtime. A nil speaker discards spoken output.
func New(client llm.Client, speaker Speaker, cfg Config, log *logger.Logger) *Runtime {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if log == nil {
		log = logger.NewNop()
	}
	if speaker == nil {
		speaker = SpeakerFunc(func(context.Context, string) error { return nil })
	}
	return &Runtime{
		client:  client,
		speaker: speaker,
		cfg:     cfg,
		logger:  log,
	}
}

// Bind sets the tool invoker, normally the session's controller.
func (r *Runtime) Bind(inv Invoker) {
	r.scopeMu.Lock()
	defer r.scopeMu.Unlock()
	r.invoker = inv
}

// SetScope implements dialog.Runtime.
func (r *Runtime) SetScope(scope dialog.Scope) {
	r.scopeMu.Lock()
	defer r.scopeMu.Unlock()
	r.scope = scope
}

// GenerateReply implements dialog.Runtime.
func (r *Runtime) GenerateReply(ctx context.Context, opts dialog.ReplyOptions) error {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()

	if opts.UserInput != "" {
		r.history = append(r.history, llm.ChatMessage{Role: llm.RoleUser, Content: opts.UserInput})
	}
	return r.turn(ctx, opts.Instructions, opts.ToolChoice)
}

// AddSystemMessage implements dialog.Runtime.
func (r *Runtime) AddSystemMessage(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	r.history = append(r.history, llm.ChatMessage{Role: llm.RoleSystem, Content: content})
	return nil
}

// HandleUtterance runs a turn for recognized user speech.
func (r *Runtime) HandleUtterance(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return r.GenerateReply(ctx, dialog.ReplyOptions{UserInput: text})
}

// Transcript returns a copy of the conversation so far.
func (r *Runtime) Transcript() []llm.ChatMessage {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	return append([]llm.ChatMessage(nil), r.history...)
}

func (r *Runtime) currentScope() (dialog.Scope, Invoker) {
	r.scopeMu.RLock()
	defer r.scopeMu.RUnlock()
	return r.scope, r.invoker
}

// turn runs model requests until the model stops calling tools. Caller holds turnMu.
func (r *Runtime) turn(ctx context.Context, instructions, toolChoice string) error {
	for round := 0; round < r.cfg.MaxToolRounds; round++ {
		scope, invoker := r.currentScope()

		req := &llm.CompletionRequest{
			Model:       r.cfg.Model,
			System:      systemPrompt(scope, instructions, toolChoice),
			Messages:    append([]llm.ChatMessage(nil), r.history...),
			Tools:       llmTools(scope.Tools),
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		}
		if r.cfg.ForceToolChoice && round == 0 && hasTool(scope, toolChoice) {
			req.ToolChoice = toolChoice
		}

		resp, err := r.client.Complete(ctx, req)
		if err != nil {
			return fmt.Errorf("model request failed: %w", err)
		}

		r.history = append(r.history, llm.ChatMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if text := strings.TrimSpace(resp.Content); text != "" {
			if err := r.speaker.Speak(ctx, text); err != nil {
				r.logger.Warn("failed to speak reply", zap.Error(err))
			}
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for _, call := range resp.ToolCalls {
			result := r.invoke(ctx, invoker, call)
			r.history = append(r.history, llm.ChatMessage{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}

		// Only the first request carries the turn-level instructions.
		instructions, toolChoice = "", ""
	}

	r.logger.Warn("tool rounds exhausted", zap.Int("max_tool_rounds", r.cfg.MaxToolRounds))
	return nil
}

func (r *Runtime) invoke(ctx context.Context, invoker Invoker, call llm.ToolCall) string {
	if invoker == nil {
		return "No actions are available."
	}

	result, err := invoker.Invoke(ctx, dialog.ToolCall{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
	})
	if err != nil {
		r.logger.Debug("tool call returned error", zap.String("tool", call.Name), zap.Error(err))
	}
	return result
}

func systemPrompt(scope dialog.Scope, instructions, toolChoice string) string {
	parts := make([]string, 0, 3)
	if scope.Instructions != "" {
		parts = append(parts, scope.Instructions)
	}
	if instructions != "" && instructions != scope.Instructions {
		parts = append(parts, instructions)
	}
	if toolChoice != "" && hasTool(scope, toolChoice) {
		parts = append(parts, "The next expected action is "+toolChoice+".")
	}
	return strings.Join(parts, "\n\n")
}

func hasTool(scope dialog.Scope, name string) bool {
	if name == "" {
		return false
	}
	for _, t := range scope.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func llmTools(specs []dialog.ToolSpec) []llm.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]llm.Tool, len(specs))
	for i, s := range specs {
		tools[i] = llm.Tool{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return tools
}
