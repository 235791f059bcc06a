// Package session defines the terminal session record and its lifecycle.
//
// A session moves strictly forward:
//
//	created -> running -> completed | failed | terminated
//
// The record is what gets persisted and served over HTTP; the live process,
// transcript and subscribers belong to the terminal manager.
package session
