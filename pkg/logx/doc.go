// Package logx configures bumpbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller, optional colours)
//   - A "minimal" console mode that only shows essential run milestones
//   - File output JSON-structured
package logx
