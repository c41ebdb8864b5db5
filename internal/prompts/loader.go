package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"cua/internal/agent/ports"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var catalogueYAML []byte

// Names of the prompts shipped in prompts.yaml.
const (
	NextAction         = "next_action"
	ActionVerification = "action_verification"
	FinalVerification  = "final_verification"
)

const maxVariableLength = 10000

// PromptTemplate represents a prompt template with metadata
type PromptTemplate struct {
	Name           string   `yaml:"-"`
	System         string   `yaml:"system"`
	User           string   `yaml:"user"`
	Required       []string `yaml:"required"`
	ResponseFormat string   `yaml:"response_format"`
	Temperature    float64  `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`

	tmpl *template.Template
}

// PromptLoader handles loading and rendering prompt templates
type PromptLoader struct {
	templates map[string]*PromptTemplate
}

// NewPromptLoader parses the embedded prompt catalogue.
func NewPromptLoader() (*PromptLoader, error) {
	return Parse(catalogueYAML)
}

// Parse builds a loader from a YAML catalogue keyed by prompt name.
func Parse(data []byte) (*PromptLoader, error) {
	raw := map[string]*PromptTemplate{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalogue: %w", err)
	}

	loader := &PromptLoader{templates: make(map[string]*PromptTemplate, len(raw))}
	for name, tpl := range raw {
		if tpl == nil {
			continue
		}
		parsed, err := template.New(name).Option("missingkey=error").Parse(tpl.User)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt %s: %w", name, err)
		}
		tpl.Name = name
		tpl.tmpl = parsed
		loader.templates[name] = tpl
	}
	return loader, nil
}

// GetPrompt returns a prompt template by name
func (p *PromptLoader) GetPrompt(name string) (*PromptTemplate, error) {
	tpl, exists := p.templates[name]
	if !exists {
		return nil, fmt.Errorf("prompt template '%s' not found", name)
	}
	return tpl, nil
}

// ListPrompts returns all available prompt template names
func (p *PromptLoader) ListPrompts() []string {
	names := make([]string, 0, len(p.templates))
	for name := range p.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fills the named prompt and returns a ready-to-send completion request
// with a system and a user message.
func (p *PromptLoader) Render(name string, variables map[string]any) (ports.CompletionRequest, error) {
	tpl, err := p.GetPrompt(name)
	if err != nil {
		return ports.CompletionRequest{}, err
	}

	var missing []string
	for _, key := range tpl.Required {
		if _, ok := variables[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return ports.CompletionRequest{}, fmt.Errorf("missing required variables for %s: %s", name, strings.Join(missing, ", "))
	}

	safe := make(map[string]string, len(variables))
	for k, v := range variables {
		safe[k] = sanitize(v)
	}

	var buf bytes.Buffer
	if err := tpl.tmpl.Execute(&buf, safe); err != nil {
		return ports.CompletionRequest{}, fmt.Errorf("render prompt %s: %w", name, err)
	}

	return ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: tpl.System},
			{Role: "user", Content: buf.String()},
		},
		Temperature:    tpl.Temperature,
		MaxTokens:      tpl.MaxTokens,
		ResponseFormat: ports.ResponseFormat(tpl.ResponseFormat),
		Metadata:       map[string]any{"prompt": name},
	}, nil
}

// sanitize renders structured values as indented JSON and caps long text.
func sanitize(value any) string {
	var text string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	case map[string]any, []any, map[string]string, []string:
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			text = fmt.Sprint(v)
		} else {
			text = string(raw)
		}
	default:
		text = fmt.Sprint(v)
	}
	if len(text) > maxVariableLength {
		text = text[:maxVariableLength] + "\n... (truncated)"
	}
	return text
}
