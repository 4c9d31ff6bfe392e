// Package main hosts the shelfscan worker CLI entrypoint and command graph.
//
// The Cobra-based command tree starts the dispatcher loop, inspects and
// retries jobs in the remote store, and scaffolds configuration. It
// centralizes configuration resolution and logger setup so subcommands can
// focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
