package genai

import (
	"testing"
	"time"
)

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
}

func TestNewClientKeySources(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(WithAPIKey("sk-test")); err != nil {
		t.Errorf("explicit key option rejected: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-env")
	if _, err := NewClient(); err != nil {
		t.Errorf("environment key rejected: %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"))
	if err != nil {
		t.Fatal(err)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
	if c.model == "" {
		t.Error("model default missing")
	}

	c, err = NewClient(WithAPIKey("sk-test"), WithModel("gpt-4o"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if c.model != "gpt-4o" || c.timeout != 5*time.Second {
		t.Errorf("overrides not applied: model=%q timeout=%v", c.model, c.timeout)
	}
}
