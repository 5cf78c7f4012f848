// Package app wires the daemon together: it opens the catalog store,
// builds the playlist and search clients, the orchestrator with its worker
// and watchdog, and the HTTP control surface, and runs them under a single
// lifecycle until a stop signal arrives.
package app
