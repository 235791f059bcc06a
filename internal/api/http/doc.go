// Package http exposes terminal sessions and the one-shot bash tool over a
// JSON API.
//
//	POST /sessions                  create a session for a registered tool
//	GET  /sessions                  list sessions held in memory
//	GET  /sessions/:id              session state
//	POST /sessions/:id/input        write base64 bytes to the terminal
//	POST /sessions/:id/resize       change the terminal size
//	POST /sessions/:id/terminate    stop the session
//	GET  /sessions/:id/transcript   retained output, base64
//	GET  /tools                     registered tool names
//	POST /exec                      run one bash command
//	GET  /health                    liveness and counters
//	GET  /metrics                   Prometheus exposition
//
// Errors are returned as {"error": "..."} with the status derived from the
// sentinel the operation failed with.
package http
