// Package logging configures log/slog for fusesearch: JSON records to a
// size-rotated file under ~/.fusesearch/logs, optionally mirrored to stderr.
// Serve mode never writes to stdout or stderr, since the stdio MCP transport
// owns those streams.
package logging
