// Package log provides structured logging for Constellation using
// zerolog: a global logger initialized once, plus child-logger helpers
// carrying component, worker and request context.
package log
