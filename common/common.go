// Package common holds build metadata, logging setup, and the handful of
// agent-wide constants shared between packages.
package common

import (
	"log/slog"
	"os"
)

// PackageName is the service tag used for logs and metrics.
const PackageName = "keylime-agent"

// Version is overridden at build time via -ldflags.
var Version = "dev"

// APIVersion is the attestation API version the agent speaks.
const APIVersion = "v2.0"

const (
	// TPMDataPCR is the PCR the agent extends with delivered key material.
	TPMDataPCR = 16
	// IMAPCR is the PCR the kernel IMA subsystem extends.
	IMAPCR = 10

	// AgentUUIDLen is the length of a canonical textual agent UUID.
	AgentUUIDLen = 36
	// AuthTagLen is the length of the hex-encoded HMAC-SHA384 auth tag.
	AuthTagLen = 96
)

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug lowers the log level to debug.
	Debug bool

	// JSON switches the handler to JSON output.
	JSON bool

	// Service is added as a 'service' attribute to all records when set.
	Service string

	// Version is added as a 'version' attribute to all records when set.
	Version string
}

// SetupLogger creates the process logger according to opts. Text output
// goes to stderr, JSON output to stdout.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	var log *slog.Logger
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
