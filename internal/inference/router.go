package inference

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RouteInput is the routing key Route matches rules against. Altify has one
// inference concern (alt-text generation) rather than the teacher's
// job/task-type split, so routing narrows to image size class and an
// explicit model override. cmd/worker calls Route once at startup with an
// empty RouteInput; no caller fills these fields from a task.
type RouteInput struct {
	SizeClass      string // "small" | "large", by decoded pixel count
	RequestedModel string
}

type Decision struct {
	Backend string
	Model   string
	Rule    string
}

type Rule struct {
	Name           string `yaml:"name"`
	WhenSizeClass  string `yaml:"size_class"`
	UseBackend     string `yaml:"use_backend"`
	UseModel       string `yaml:"use_model"`
}

type Config struct {
	DefaultBackend string `yaml:"default_backend"`
	DefaultModel   string `yaml:"default_model"`
	Rules          []Rule `yaml:"rules"`
}

// Router picks a backend+model pair for a RouteInput. Grounded on
// internal/models/router.go's YAML rule-list shape, narrowed from the
// teacher's latency/reasoning/classification axes to the one axis that
// matters for a vision-language alt-text backend: image size, since a
// large image may need a backend with more VRAM headroom.
type Router struct {
	cfg Config
}

func NewDefaultRouter() *Router {
	return &Router{cfg: Config{DefaultBackend: "ollama", DefaultModel: "llava:13b-q4"}}
}

func LoadRouterFromEnv() (*Router, error) {
	return LoadRouterFromPath(strings.TrimSpace(os.Getenv("ALTIFY_MODEL_ROUTING_FILE")))
}

func LoadRouterFromPath(path string) (*Router, error) {
	if path == "" {
		return NewDefaultRouter(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model routing file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse model routing file: %w", err)
	}
	if strings.TrimSpace(cfg.DefaultBackend) == "" {
		cfg.DefaultBackend = "ollama"
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = "llava:13b-q4"
	}
	return &Router{cfg: cfg}, nil
}

func (r *Router) Route(in RouteInput) Decision {
	decision := Decision{Backend: r.cfg.DefaultBackend, Model: r.cfg.DefaultModel, Rule: "default"}
	if in.RequestedModel != "" {
		decision.Model = in.RequestedModel
	}
	for _, rule := range r.cfg.Rules {
		if rule.WhenSizeClass != "" && rule.WhenSizeClass != in.SizeClass {
			continue
		}
		if b := strings.TrimSpace(rule.UseBackend); b != "" {
			decision.Backend = b
		}
		if m := strings.TrimSpace(rule.UseModel); m != "" && in.RequestedModel == "" {
			decision.Model = m
		}
		decision.Rule = "default"
		if n := strings.TrimSpace(rule.Name); n != "" {
			decision.Rule = n
		} else {
			decision.Rule = "rule"
		}
		return decision
	}
	return decision
}
