package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AgentStage names a pipeline point where agents run.
type AgentStage string

const (
	AgentStagePreSearch  AgentStage = "pre_search"
	AgentStagePostSearch AgentStage = "post_search"
	AgentStageResponse   AgentStage = "response"
)

// AgentDefinition configures one agent bound to a pipeline point.
// Pre/post-search agents run sequentially by ascending priority; response
// agents run in parallel.
type AgentDefinition struct {
	Name     string            `yaml:"name"`
	Stage    AgentStage        `yaml:"stage"`
	Priority int               `yaml:"priority"`
	Enabled  bool              `yaml:"enabled"`
	// Tool is the MCP tool a response agent delegates to, if any.
	Tool   string            `yaml:"tool,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

// agentsYAML is the on-disk structure of agents.yaml.
type agentsYAML struct {
	Agents []AgentDefinition `yaml:"agents"`
}

// TemplatesConfig holds the prompt templates the pipeline binds by default.
type TemplatesConfig struct {
	RAG                string `yaml:"rag"`
	QuestionGeneration string `yaml:"question_generation"`
	Synthesis          string `yaml:"synthesis"`
}

// templatesYAML is the on-disk structure of templates.yaml.
type templatesYAML struct {
	Templates TemplatesConfig `yaml:"templates"`
}

// loadYAMLFiles overlays agents.yaml and templates.yaml from configDir onto
// the config. Missing files are skipped; malformed files are errors.
func (c *Config) loadYAMLFiles(configDir string) error {
	agentsPath := filepath.Join(configDir, "agents.yaml")
	if data, err := os.ReadFile(agentsPath); err == nil {
		var parsed agentsYAML
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse %s: %w", agentsPath, err)
		}
		for i, a := range parsed.Agents {
			if err := validateAgentDefinition(a); err != nil {
				return fmt.Errorf("%s: agent %d: %w", agentsPath, i, err)
			}
		}
		c.Agents = parsed.Agents
		slog.Info("Loaded agent definitions", "path", agentsPath, "count", len(parsed.Agents))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", agentsPath, err)
	}

	templatesPath := filepath.Join(configDir, "templates.yaml")
	if data, err := os.ReadFile(templatesPath); err == nil {
		var parsed templatesYAML
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse %s: %w", templatesPath, err)
		}
		c.Templates = parsed.Templates
		slog.Info("Loaded prompt templates", "path", templatesPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", templatesPath, err)
	}

	return nil
}

func validateAgentDefinition(a AgentDefinition) error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch a.Stage {
	case AgentStagePreSearch, AgentStagePostSearch, AgentStageResponse:
	default:
		return fmt.Errorf("unknown stage %q: must be pre_search, post_search, or response", a.Stage)
	}
	if a.Stage == AgentStageResponse && a.Tool == "" {
		return fmt.Errorf("response agent %q requires a tool", a.Name)
	}
	return nil
}
