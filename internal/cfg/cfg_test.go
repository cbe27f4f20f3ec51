package cfg

import (
	"flag"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		OllamaBaseURL:         "http://127.0.0.1:11434",
		LLMModel:              "llama3.1:8b",
		LLMTimeoutS:           60,
		RetrievalTopK:         6,
		ContextBudget:         1500,
		ConfidenceScoring:     true,
		MinConfidence:         0.7,
		LatencyWarnMs:         5000,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.OllamaBaseURL != "http://127.0.0.1:11434" {
		t.Errorf("OllamaBaseURL = %q", c.OllamaBaseURL)
	}
	if c.LLMModel != "llama3.1:8b" {
		t.Errorf("LLMModel = %q", c.LLMModel)
	}
	if c.LLMTimeoutS != 60 {
		t.Errorf("LLMTimeoutS = %d, want 60", c.LLMTimeoutS)
	}
	if c.RetrievalTopK != 6 {
		t.Errorf("RetrievalTopK = %d, want 6", c.RetrievalTopK)
	}
	if c.ContextBudget != 1500 {
		t.Errorf("ContextBudget = %d, want 1500", c.ContextBudget)
	}
	if !c.ConfidenceScoring {
		t.Error("ConfidenceScoring not on by default")
	}
	if c.StrictJSON || c.DoubleCheck || c.EpiWeighting {
		t.Error("opt-in features enabled by default")
	}
	if c.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %g, want 0.7", c.MinConfidence)
	}

	// The defaults pass validation as-is.
	if err := c.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-ollama-base-url", "http://model-host:11434",
		"-llm-model", "mistral:7b",
		"-llm-timeout-seconds", "120",
		"-retrieval-top-k", "3",
		"-database-url", "postgres://localhost/triage",
		"-strict-json",
		"-double-check",
		"-min-confidence", "0.5",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.OllamaBaseURL != "http://model-host:11434" {
		t.Errorf("OllamaBaseURL = %q", c.OllamaBaseURL)
	}
	if c.LLMModel != "mistral:7b" {
		t.Errorf("LLMModel = %q", c.LLMModel)
	}
	if c.LLMTimeoutS != 120 {
		t.Errorf("LLMTimeoutS = %d", c.LLMTimeoutS)
	}
	if c.RetrievalTopK != 3 {
		t.Errorf("RetrievalTopK = %d", c.RetrievalTopK)
	}
	if c.DatabaseURL != "postgres://localhost/triage" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if !c.StrictJSON || !c.DoubleCheck {
		t.Error("boolean flags not applied")
	}
	if c.MinConfidence != 0.5 {
		t.Errorf("MinConfidence = %g", c.MinConfidence)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "base is valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget above max",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 301 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.APIPort = 70000 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "missing ollama url",
			mutate:    func(c *Config) { c.OllamaBaseURL = "" },
			wantErr:   true,
			errSubstr: []string{"OLLAMA_BASE_URL"},
		},
		{
			name:      "missing model",
			mutate:    func(c *Config) { c.LLMModel = "" },
			wantErr:   true,
			errSubstr: []string{"LLM_MODEL"},
		},
		{
			name:      "llm timeout zero",
			mutate:    func(c *Config) { c.LLMTimeoutS = 0 },
			wantErr:   true,
			errSubstr: []string{"LLM_TIMEOUT_SECONDS"},
		},
		{
			name:      "llm timeout above max",
			mutate:    func(c *Config) { c.LLMTimeoutS = 601 },
			wantErr:   true,
			errSubstr: []string{"LLM_TIMEOUT_SECONDS"},
		},
		{
			name:      "top-k zero",
			mutate:    func(c *Config) { c.RetrievalTopK = 0 },
			wantErr:   true,
			errSubstr: []string{"RETRIEVAL_TOP_K"},
		},
		{
			name:      "top-k above max",
			mutate:    func(c *Config) { c.RetrievalTopK = 21 },
			wantErr:   true,
			errSubstr: []string{"RETRIEVAL_TOP_K"},
		},
		{
			name:      "context budget zero",
			mutate:    func(c *Config) { c.ContextBudget = 0 },
			wantErr:   true,
			errSubstr: []string{"CONTEXT_BUDGET"},
		},
		{
			name:      "min confidence above one",
			mutate:    func(c *Config) { c.MinConfidence = 1.5 },
			wantErr:   true,
			errSubstr: []string{"MIN_CONFIDENCE"},
		},
		{
			name:      "negative latency warn",
			mutate:    func(c *Config) { c.LatencyWarnMs = -1 },
			wantErr:   true,
			errSubstr: []string{"LATENCY_WARN_MS"},
		},
		{
			name: "multiple errors joined",
			mutate: func(c *Config) {
				c.OllamaBaseURL = ""
				c.LLMModel = ""
			},
			wantErr:   true,
			errSubstr: []string{"OLLAMA_BASE_URL", "LLM_MODEL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validBase()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, sub := range tt.errSubstr {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q missing %q", err.Error(), sub)
				}
			}
		})
	}
}
