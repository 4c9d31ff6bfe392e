// Package jobstore is the typed client for the remote job store: job
// claiming with lease semantics, heartbeats, typed submission, and CRUD
// over the entity collections (products, brands, ingredients, categories).
//
// Only call shapes are consumed; the store's internal schema is opaque to
// the worker. Claiming is the sole mutual-exclusion point: a 409 on claim
// means another worker won the conditional transition and is treated as
// "no work here", never as an error.
package jobstore
