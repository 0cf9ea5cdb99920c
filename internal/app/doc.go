// Package app wires the application together: logger construction, rule
// registry population, workspace loading, configuration, and the graph run.
// It owns the process lifecycle between CLI parsing and exit.
package app
