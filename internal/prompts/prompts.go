// Package prompts holds the instruction templates handed to the voice runtime.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

// Templates is the full instruction set. Every field is opaque text; product data is
// appended after the section marker when rendered.
type Templates struct {
	Assistant        string `yaml:"assistant"`
	Session          string `yaml:"session"`
	Consent          string `yaml:"consent"`
	StartConfiguring string `yaml:"start_configuring"`
	DeclineNotice    string `yaml:"decline_notice"`
	DataUpdate       string `yaml:"data_update"`
}

// Defaults returns the built-in templates.
func Defaults() Templates {
	return Templates{
		Assistant: `# Context
- PRODUCT and LANGUAGE are given in the product data below.
- Speak in the given language. If the product language differs, translate when speaking but keep configuration values exactly as they appear in the data.
- Never offer a product, part or option that is not in the data.
- Configure one part at a time and keep answers short.
- Call updateConfiguration every time a part is chosen, confirmConfiguration when the user accepts the result and closeVoiceMode when the user wants to stop.`,
		Session: `- Configure the available product parts step by step.
- Stay on the product; do not discuss general topics.
- Every part has a "uniqueId" and a "name"; use both when calling tools.
- Present the options of one part at a time and wait for the answer.
- Use the values from the product data as they are.`,
		Consent: `Ask the user whether they want to continue in voice mode.
- Ignore background noise and words you cannot recognise.
- Use only the conversation language named in the product data below.
- Get a clear yes or no answer. Call consentGiven for yes and consentDenied for no.`,
		StartConfiguring: "The user has given consent. Proceed with the product configuration.",
		DeclineNotice:    "Tell the user that you are unable to proceed and that you will end the call now.",
		DataUpdate: `- From now on, respond using the updated configuration only.
- If a part is already configured, continue with what is left in the updated configuration.
- If some options were removed, ignore them and focus on the remaining ones.`,
	}
}

// Load reads a YAML file and overrides the defaults with every non-empty field.
func Load(path string) (Templates, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return t, fmt.Errorf("failed to parse prompts file: %w", err)
	}

	t.merge(override)
	return t, nil
}

func (t *Templates) merge(o Templates) {
	set := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	set(&t.Assistant, o.Assistant)
	set(&t.Session, o.Session)
	set(&t.Consent, o.Consent)
	set(&t.StartConfiguring, o.StartConfiguring)
	set(&t.DeclineNotice, o.DeclineNotice)
	set(&t.DataUpdate, o.DataUpdate)
}

const (
	productSection = "\n\n# PRODUCT DATA:\n"
	updateSection  = "\n____________________________\n\nUPDATED CONFIGURATION DATA:\n____________________________\n\n"
)

// ProductJSON renders the product the way it is embedded in instructions.
func ProductJSON(p *model.Product) string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// AssistantInstructions is the standing instruction set for the configuring phase.
func (t Templates) AssistantInstructions(p *model.Product) string {
	return t.Assistant + productSection + ProductJSON(p)
}

// SessionInput is the opening input for the configuring phase.
func (t Templates) SessionInput(p *model.Product) string {
	return t.Session + productSection + ProductJSON(p)
}

// ConsentInstructions is the instruction set of the consent sub-dialog.
func (t Templates) ConsentInstructions(p *model.Product) string {
	return t.Consent + "\n- LANGUAGE: " + p.Language + productSection + ProductJSON(p)
}

// DataUpdateMessage wraps a data-channel payload in the update preamble.
func (t Templates) DataUpdateMessage(payload string) string {
	return t.DataUpdate + updateSection + payload
}

// UpdatedAssistantInstructions extends the standing instructions with new data.
func (t Templates) UpdatedAssistantInstructions(p *model.Product, payload string) string {
	return t.AssistantInstructions(p) + updateSection + payload
}
