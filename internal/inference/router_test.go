package inference

import "testing"

func TestRouterDefaultDecision(t *testing.T) {
	r := NewDefaultRouter()
	d := r.Route(RouteInput{SizeClass: "small"})
	if d.Rule != "default" {
		t.Fatalf("expected default rule, got %q", d.Rule)
	}
}

func TestRouterRequestedModelOverridesDefault(t *testing.T) {
	r := NewDefaultRouter()
	d := r.Route(RouteInput{RequestedModel: "llava:34b"})
	if d.Model != "llava:34b" {
		t.Fatalf("expected requested model to win, got %q", d.Model)
	}
}

func TestRouterSizeClassRule(t *testing.T) {
	r := &Router{cfg: Config{
		DefaultBackend: "ollama",
		DefaultModel:   "llava:13b-q4",
		Rules: []Rule{
			{Name: "large-image", WhenSizeClass: "large", UseBackend: "vllm", UseModel: "llava:34b"},
		},
	}}
	d := r.Route(RouteInput{SizeClass: "large"})
	if d.Backend != "vllm" || d.Model != "llava:34b" || d.Rule != "large-image" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}
