// Package drivers defines the capability contract between the dispatcher
// and per-source scraping implementations, plus the registry that routes a
// source URL to the driver claiming it. Driver bodies live elsewhere; this
// engine depends only on the contract.
package drivers
