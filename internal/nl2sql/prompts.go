package nl2sql

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TablesPlaceholder is replaced in Prompts.SQLSystem with the comma-joined
// allow-list.
const TablesPlaceholder = "{tables}"

const defaultConversationPrompt = "You are a helpful assistant."

//go:embed prompts.yaml
var defaultPromptsYAML []byte

type Prompts struct {
	SQLSystem    string        `yaml:"sql_system"`
	Conversation string        `yaml:"conversation"`
	Models       ModelRegistry `yaml:"models"`
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() Prompts {
	prompts, err := parsePrompts(defaultPromptsYAML)
	if err != nil {
		panic(fmt.Sprintf("parse embedded prompts: %v", err))
	}
	return prompts
}

// LoadPrompts returns the embedded defaults overridden by any non-empty
// entries in the YAML file at path. An empty path yields the defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return prompts, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	override, err := parsePrompts(raw)
	if err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %q: %w", path, err)
	}
	return override.Merge(prompts), nil
}

// Merge fills empty entries of p from defaults.
func (p Prompts) Merge(defaults Prompts) Prompts {
	if strings.TrimSpace(p.SQLSystem) == "" {
		p.SQLSystem = defaults.SQLSystem
	}
	if strings.TrimSpace(p.Conversation) == "" {
		p.Conversation = defaults.Conversation
	}
	p.Models = p.Models.Merge(defaults.Models)
	return p
}

// SQLSystemFor renders the SQL system prompt for the given allow-list.
func (p Prompts) SQLSystemFor(tables []string) string {
	return strings.ReplaceAll(p.SQLSystem, TablesPlaceholder, strings.Join(tables, ", "))
}

func (p Prompts) ConversationSystem() string {
	if strings.TrimSpace(p.Conversation) == "" {
		return defaultConversationPrompt
	}
	return p.Conversation
}

func parsePrompts(raw []byte) (Prompts, error) {
	var prompts Prompts
	if err := yaml.Unmarshal(raw, &prompts); err != nil {
		return Prompts{}, err
	}
	if prompts.SQLSystem != "" && !strings.Contains(prompts.SQLSystem, TablesPlaceholder) {
		return Prompts{}, fmt.Errorf("sql_system prompt must contain %s", TablesPlaceholder)
	}
	return prompts, nil
}
