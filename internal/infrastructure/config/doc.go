// Package config provides 12-factor configuration for the nocodo backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags in cmd/server override a few of them for local runs.
//
// Sections:
//   - Server: HTTP listen address and shutdown budget
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//   - Workspace: project root, tool registry and permission policy files
//   - Executor: one-shot bash timeouts and output caps
//   - Terminal: PTY transcript cap, idle timeout, retention, sink queue depth
//   - Store: persistence driver (memory, sqlite, postgres) and DSN
//   - Events: NATS lifecycle event publishing
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println("listening on", cfg.Addr())
package config
