// Package logx configures newsrelay's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable on a terminal (short timestamp + short caller)
//   - JSON lines everywhere else
//   - An optional Telegram sink for operators (min-level + rate limiting)
package logx
