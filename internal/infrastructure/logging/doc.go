// Package logging provides structured logging for Elevate.
//
// It wraps log/slog so every entry carries the service and version fields,
// and sub-components tag themselves with a "component" field.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("session").Info("session started", "identity", id)
//
// # Security
//
// Never log elevation credentials, passwords, or tokens.
package logging
