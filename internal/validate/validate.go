// Package validate implements Ingress's upload-time validation (spec.md
// §4.1): image must be a decodable raster format with bounded dimensions
// and size; context must be trimmed and non-empty with a capped length.
// The bounded-dimension/size/context checks are hard invariants taken
// directly from the spec; on top of them sits an optional YAML rule list
// (content-type allow/deny) adapted from the teacher's policy engine, so
// an operator can additionally restrict accepted formats without a
// redeploy.
package validate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/altify/altify/internal/domain"
)

const (
	MaxImageBytes  = 20 * 1024 * 1024
	MaxDimension   = 8192
	MaxContextLen  = 4096
)

type Rule struct {
	Name        string `yaml:"name"`
	Effect      string `yaml:"effect"` // allow|deny
	ContentType string `yaml:"content_type"`
	Reason      string `yaml:"reason"`
}

type Config struct {
	DefaultAction string `yaml:"default_action"` // allow|deny
	Rules         []Rule `yaml:"rules"`
}

// Engine layers operator-supplied content-type rules on top of the spec's
// fixed size/dimension/context bounds. Grounded on internal/policy/engine.go's
// default_action + ordered-rule-match shape, narrowed to the one field
// (content type) Altify's upload path needs to gate on.
type Engine struct {
	defaultAction string
	rules         []Rule
}

func NewAllowAll() *Engine {
	return &Engine{defaultAction: "allow"}
}

func LoadFromEnv() (*Engine, error) {
	return LoadFromPath(strings.TrimSpace(os.Getenv("ALTIFY_VALIDATION_RULES_FILE")))
}

// LoadFromPath reads an operator-supplied content-type rule file; an empty
// path yields the allow-all default (no rules beyond the spec's fixed
// bounds).
func LoadFromPath(path string) (*Engine, error) {
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validation rules file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse validation rules file: %w", err)
	}
	e := &Engine{defaultAction: normalizeAction(cfg.DefaultAction)}
	if e.defaultAction == "" {
		e.defaultAction = "allow"
	}
	e.rules = cfg.Rules
	return e, nil
}

func normalizeAction(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "allow":
		return "allow"
	case "deny":
		return "deny"
	default:
		return ""
	}
}

func (e *Engine) allowsContentType(contentType string) (bool, string) {
	for _, r := range e.rules {
		if r.ContentType != "" && r.ContentType != contentType {
			continue
		}
		allowed := normalizeAction(r.Effect) == "allow"
		reason := r.Reason
		if reason == "" {
			reason = "rule:" + r.Name
		}
		return allowed, reason
	}
	return e.defaultAction != "deny", "default_" + e.defaultAction
}

// UploadInput is what Ingress's Upload/BulkUpload handlers validate before
// entering the atomic staging protocol.
type UploadInput struct {
	ImageBytes  []byte
	ContentType string
	Context     string
}

// Validated holds the derived facts downstream staging needs (decoded
// dimensions aren't persisted, but validating the decode is the point).
type Validated struct {
	Context string
	Width   int
	Height  int
	Format  string
}

func (e *Engine) Validate(in UploadInput) (Validated, error) {
	if len(in.ImageBytes) == 0 {
		return Validated{}, fmt.Errorf("empty image: %w", domain.ErrBadInput)
	}
	if len(in.ImageBytes) > MaxImageBytes {
		return Validated{}, fmt.Errorf("image exceeds %d bytes: %w", MaxImageBytes, domain.ErrBadInput)
	}
	if allowed, reason := e.allowsContentType(in.ContentType); !allowed {
		return Validated{}, fmt.Errorf("content type %q rejected by %s: %w", in.ContentType, reason, domain.ErrBadInput)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.ImageBytes))
	if err != nil {
		return Validated{}, fmt.Errorf("not a decodable raster image: %w", domain.ErrBadInput)
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return Validated{}, fmt.Errorf("image %dx%d exceeds %dx%d: %w", cfg.Width, cfg.Height, MaxDimension, MaxDimension, domain.ErrBadInput)
	}

	ctx := strings.TrimSpace(in.Context)
	if ctx == "" {
		return Validated{}, fmt.Errorf("context must be non-empty: %w", domain.ErrBadInput)
	}
	if utf8.RuneCountInString(ctx) > MaxContextLen {
		return Validated{}, fmt.Errorf("context exceeds %d characters: %w", MaxContextLen, domain.ErrBadInput)
	}

	return Validated{Context: ctx, Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
