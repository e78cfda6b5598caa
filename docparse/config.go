package docparse

import (
	"context"
	"log/slog"
	"time"
)

// Outcome summarizes one Extract call. Format is empty when detection did
// not get that far; Err is nil on success.
type Outcome struct {
	Format   Format
	Filename string
	Size     int64
	Pages    int
	Tables   int
	Duration time.Duration
	Err      error
}

// Observer is called once per Extract call, after the result is known.
// It runs on the caller's goroutine and must not block.
type Observer func(ctx context.Context, o Outcome)

// Config configures the extraction pipeline.
type Config struct {
	// MaxFileSize lowers the size ceiling. Values <= 0 or above
	// MaxFileSize fall back to MaxFileSize.
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// DocumentRoot confines path-based extraction (MCP tool, CLI excluded).
	// Empty disables path-based extraction over MCP.
	DocumentRoot string `json:"document_root" yaml:"document_root"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`

	// Observer, if set, receives every extraction outcome.
	Observer Observer `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 || c.MaxFileSize > MaxFileSize {
		c.MaxFileSize = MaxFileSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
