package dialog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

// Tool names form the callable contract with the voice runtime; they appear in transcripts.
const (
	ToolConsentGiven         = "consentGiven"
	ToolConsentDenied        = "consentDenied"
	ToolUpdateConfiguration  = "updateConfiguration"
	ToolConfirmConfiguration = "confirmConfiguration"
	ToolCloseVoiceMode       = "closeVoiceMode"
)

// Kind identifies an operation requested by the voice runtime.
type Kind int

const (
	KindUnknown Kind = iota
	KindConsentGiven
	KindConsentDenied
	KindUpdateConfiguration
	KindConfirmConfiguration
	KindCloseVoiceMode
)

var kindsByName = map[string]Kind{
	ToolConsentGiven:         KindConsentGiven,
	ToolConsentDenied:        KindConsentDenied,
	ToolUpdateConfiguration:  KindUpdateConfiguration,
	ToolConfirmConfiguration: KindConfirmConfiguration,
	ToolCloseVoiceMode:       KindCloseVoiceMode,
}

// KindOf maps a tool name to its operation kind.
func KindOf(name string) Kind {
	return kindsByName[name]
}

// ToolCall is one invocation requested by the voice runtime.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec describes a callable tool to the voice runtime.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func emptyParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// ConsentTools are the only tools exposed while consent is pending.
func ConsentTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolConsentGiven,
			Description: "Use this when the user agrees to continue in voice mode.",
			Parameters:  emptyParameters(),
		},
		{
			Name:        ToolConsentDenied,
			Description: "Use this when the user declines voice mode or does not want to continue.",
			Parameters:  emptyParameters(),
		},
	}
}

// ConfigurationTools are exposed while the product is being configured.
func ConfigurationTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolUpdateConfiguration,
			Description: "Call each time a part of the product is configured.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items_configured": map[string]any{
						"type":        "object",
						"description": "The part being configured. Must include uniqueId, name and the selected value.",
						"properties": map[string]any{
							"uniqueId": map[string]any{"type": "string"},
							"name":     map[string]any{"type": "string"},
							"value":    map[string]any{"type": "string"},
							"title":    map[string]any{"type": "string"},
						},
						"required": []string{"uniqueId", "name"},
					},
				},
				"required": []string{"items_configured"},
			},
		},
		{
			Name:        ToolConfirmConfiguration,
			Description: "Call when the user confirms the product configuration.",
			Parameters:  emptyParameters(),
		},
		{
			Name:        ToolCloseVoiceMode,
			Description: "Call when the user wants to close voice mode, stop or end the call.",
			Parameters:  emptyParameters(),
		},
	}
}

type selectionArgs struct {
	UniqueID string          `json:"uniqueId"`
	Name     string          `json:"name"`
	Value    json.RawMessage `json:"value"`
	Title    string          `json:"title"`
}

// parseSelection decodes updateConfiguration arguments. Both the wrapped
// {"items_configured": {...}} form and a bare selection object are accepted.
func parseSelection(raw json.RawMessage) (model.SelectedOption, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return model.SelectedOption{}, fmt.Errorf("%w: missing arguments", ErrInvalidToolArgument)
	}

	var wrapped struct {
		Items *selectionArgs `json:"items_configured"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return model.SelectedOption{}, fmt.Errorf("%w: %v", ErrInvalidToolArgument, err)
	}

	args := wrapped.Items
	if args == nil {
		args = &selectionArgs{}
		if err := json.Unmarshal(raw, args); err != nil {
			return model.SelectedOption{}, fmt.Errorf("%w: %v", ErrInvalidToolArgument, err)
		}
	}

	value, err := scalarString(args.Value)
	if err != nil {
		return model.SelectedOption{}, fmt.Errorf("%w: value: %v", ErrInvalidToolArgument, err)
	}

	opt := model.SelectedOption{
		UniqueID: strings.TrimSpace(args.UniqueID),
		Name:     strings.TrimSpace(args.Name),
		Value:    value,
		Title:    args.Title,
	}
	if err := opt.Validate(); err != nil {
		return model.SelectedOption{}, fmt.Errorf("%w: %v", ErrInvalidToolArgument, err)
	}
	return opt, nil
}

// scalarString turns a JSON scalar into its string form; null and absent become nil.
func scalarString(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &s, nil
	case '{', '[':
		return nil, fmt.Errorf("must be a scalar")
	default:
		s := string(raw)
		return &s, nil
	}
}
