// Package logx configures cronhost's own structured logging.
//
// This is the orchestrator's diagnostic log, not the per-job output log
// (see internal/logsink for that). A small wrapper (logx.Logger) on top
// of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
package logx
