// Package triage provides the business boundary for the teletriage system.
// It defines the Service (case lifecycle, versioning, audit), Orchestrator
// (LLM drafting pipeline with deterministic safety guardrails), Store
// interface (persistence), and domain models.
package triage
