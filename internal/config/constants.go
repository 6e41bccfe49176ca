package config

import "time"

const (
	// Dify request timeouts
	RequestTimeout = 60 * time.Second
	UploadTimeout  = 30 * time.Second

	// Manifold identity exposed on the models listing
	ManifoldID   = "dify"
	ManifoldName = "dify/"

	// Minimal interval between edits of the streaming placeholder message
	StreamEditInterval = 1500 * time.Millisecond

	// Per-chat cooldown between bot requests
	Cooldown = 3 * time.Second

	// HTTP server shutdown grace period
	ShutdownTimeout = 10 * time.Second
)
