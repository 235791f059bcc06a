// Command server runs the nocodo command-execution backend.
//
// It confines every command to a project root, checks it against the
// permission policy and then either runs it once through bash or hosts it
// as an interactive terminal session streamed over WebSocket.
//
// Configuration comes from the environment (see internal/infrastructure/config)
// and flags override it:
//
//	./server --project-root ~/src/app --port 8000
//	./server --policy policy.yaml --tools tools.yaml --store sqlite --store-dsn nocodo.db
//	./server --dev --log-level debug
//
// SIGINT and SIGTERM shut the server down gracefully: running sessions are
// terminated and their final state is persisted.
package main
