package validate

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/altify/altify/internal/domain"
)

// onePxPNG is the smallest valid PNG: a 1x1 transparent pixel, used as the
// "happy path" fixture in spec §9 test 1.
const onePxPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

func decodedOnePxPNG(t *testing.T) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(onePxPNGBase64)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return b
}

func TestValidateHappyPath(t *testing.T) {
	e := NewAllowAll()
	v, err := e.Validate(UploadInput{
		ImageBytes:  decodedOnePxPNG(t),
		ContentType: "image/png",
		Context:     "cat on mat",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Width != 1 || v.Height != 1 || v.Format != "png" {
		t.Fatalf("unexpected decode result: %+v", v)
	}
}

func TestValidateRejectsEmptyContext(t *testing.T) {
	e := NewAllowAll()
	_, err := e.Validate(UploadInput{ImageBytes: decodedOnePxPNG(t), ContentType: "image/png", Context: "   "})
	if !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestValidateRejectsUndecodableBytes(t *testing.T) {
	e := NewAllowAll()
	_, err := e.Validate(UploadInput{ImageBytes: []byte("not an image"), ContentType: "image/png", Context: "ctx"})
	if !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestValidateRejectsOversizedImage(t *testing.T) {
	e := NewAllowAll()
	big := make([]byte, MaxImageBytes+1)
	_, err := e.Validate(UploadInput{ImageBytes: big, ContentType: "image/png", Context: "ctx"})
	if !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestValidateRejectsOverlongContext(t *testing.T) {
	e := NewAllowAll()
	ctx := strings.Repeat("a", MaxContextLen+1)
	_, err := e.Validate(UploadInput{ImageBytes: decodedOnePxPNG(t), ContentType: "image/png", Context: ctx})
	if !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestEngineContentTypeDenyRule(t *testing.T) {
	e := &Engine{
		defaultAction: "allow",
		rules: []Rule{
			{Name: "deny-gif", Effect: "deny", ContentType: "image/gif", Reason: "animated_formats_forbidden"},
		},
	}
	_, err := e.Validate(UploadInput{ImageBytes: decodedOnePxPNG(t), ContentType: "image/gif", Context: "ctx"})
	if !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("expected ErrBadInput from content-type rule, got %v", err)
	}
}
