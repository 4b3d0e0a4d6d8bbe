// Package logx provides fxcalbot's structured logging.
//
// It wraps zerolog behind a small Logger value type so components can hold
// a logger without caring about sink configuration. Sinks (console, JSON
// file) are owned by a Service and can be swapped at runtime via Apply(),
// which keeps loggers created earlier "live" across config reloads.
package logx
