// Package observability provides the daemon's metrics and structured logging.
//
// # Overview
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//
// # Metrics
//
// Metrics are implemented using the Prometheus client libraries and track:
//   - Turn lifecycle (started/completed/failed, iteration counts)
//   - Tool execution outcomes and latency
//   - Approval request decisions
//   - Model provider request latency, token usage, and cost
//   - HTTP request/response metrics
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.TurnStarted()
//	// ... run the turn ...
//	metrics.TurnCompleted("completed", time.Since(start).Seconds(), iterations)
//
//	metrics.RecordToolExecution("shell", "ok", time.Since(toolStart).Seconds())
//	metrics.RecordModelRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(modelStart).Seconds(), promptTokens, completionTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic run/session/turn/tool-call ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = observability.AddRunID(ctx, run.ID)
//	ctx = observability.AddTurnID(ctx, turn.ID)
//	logger.Info(ctx, "turn started", "iteration", 1)
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// # Testing
//
//   - Metrics are verified against isolated prometheus.Registry instances via
//     prometheus/testutil.
//   - Logging is verified by writing to a bytes.Buffer and asserting on the
//     emitted JSON/text lines.
package observability
