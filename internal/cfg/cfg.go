package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	OllamaBaseURL string
	LLMModel      string
	LLMTimeoutS   int

	RetrievalEndpoint string
	KBIndexPath       string
	RetrievalTopK     int
	ContextBudget     int

	DatabaseURL     string
	SlackWebhookURL string
	GlossaryFile    string
	EpiWeightsFile  string
	APIToken        string

	StrictJSON        bool
	DoubleCheck       bool
	ConfidenceScoring bool
	EpiWeighting      bool
	MinConfidence     float64
	LatencyWarnMs     int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.OllamaBaseURL, "ollama-base-url", "http://127.0.0.1:11434", "base URL of the Ollama-compatible model endpoint")
	fs.StringVar(&c.LLMModel, "llm-model", "llama3.1:8b", "model identifier sent to the LLM endpoint")
	fs.IntVar(&c.LLMTimeoutS, "llm-timeout-seconds", 60, "per-call LLM timeout in seconds (1..600)")

	fs.StringVar(&c.RetrievalEndpoint, "retrieval-endpoint", "", "knowledge base search endpoint (empty = local index)")
	fs.StringVar(&c.KBIndexPath, "kb-index-path", "", "path to local knowledge base index JSON (empty = retrieval disabled)")
	fs.IntVar(&c.RetrievalTopK, "retrieval-top-k", 6, "snippets requested per triage (1..20)")
	fs.IntVar(&c.ContextBudget, "context-budget", 1500, "max characters of snippet text per prompt")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.GlossaryFile, "glossary-file", "", "CSV file mapping popular terms to clinical vocabulary")
	fs.StringVar(&c.EpiWeightsFile, "epi-weights-file", "", "JSON file of epidemiological cause weights")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")

	fs.BoolVar(&c.StrictJSON, "strict-json", false, "disable vocabulary coercion when parsing model output")
	fs.BoolVar(&c.DoubleCheck, "double-check", false, "run a second omission-finding model pass")
	fs.BoolVar(&c.ConfidenceScoring, "confidence-scoring", true, "compute per-field confidence signals")
	fs.BoolVar(&c.EpiWeighting, "epi-weighting", false, "re-rank probable causes by epidemiological weights")
	fs.Float64Var(&c.MinConfidence, "min-confidence", 0.7, "overall confidence below this sets the review notice (0..1)")
	fs.IntVar(&c.LatencyWarnMs, "latency-warn-ms", 5000, "runs slower than this are flagged in the result")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.OllamaBaseURL == "" {
		errs = append(errs, errors.New("OLLAMA_BASE_URL is required"))
	}
	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.LLMTimeoutS <= 0 || c.LLMTimeoutS > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutS))
	}

	if c.RetrievalTopK <= 0 || c.RetrievalTopK > 20 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TOP_K %d (must be 1..20)", c.RetrievalTopK))
	}
	if c.ContextBudget <= 0 {
		errs = append(errs, fmt.Errorf("invalid CONTEXT_BUDGET %d (must be positive)", c.ContextBudget))
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("invalid MIN_CONFIDENCE %g (must be 0..1)", c.MinConfidence))
	}
	if c.LatencyWarnMs < 0 {
		errs = append(errs, fmt.Errorf("invalid LATENCY_WARN_MS %d (must be >= 0)", c.LatencyWarnMs))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
