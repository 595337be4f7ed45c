// Package logger builds the structured slog loggers used across the proxy.
// Production environments log JSON, other environments use the text handler,
// and every record carries the environment it was emitted from.
package logger
