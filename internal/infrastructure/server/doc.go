// Package server assembles the backend: it loads the tool registry and
// permission policy, opens the session store and event bus, builds the
// executor and terminal manager and mounts the HTTP and WebSocket routes.
package server
