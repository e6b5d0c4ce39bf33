// Package logx configures guildrelay's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Secrets (token=, password=, email=) redacted before any sink sees them
//   - Optional ops-channel sink (min-level + rate limiting)
package logx
