// Package handlers implements one handler per job type. A handler owns a
// claimed job end to end: it walks the type's cursor, performs the work,
// pushes partial batches so a crash loses at most one batch, and finishes
// with the terminal submission. Handlers never write the job record
// directly; every durable change goes through the claim handle.
package handlers

import (
	"context"
	"fmt"

	"shelfscan/internal/jobstore"
)

// JobHandle is the slice of the claim handle handlers depend on. The
// dispatcher owns heartbeats and failure reporting; handlers only read the
// job and submit results.
type JobHandle interface {
	Job() *jobstore.Job
	Submit(ctx context.Context, submission jobstore.Submission) error
	Complete(ctx context.Context, submission jobstore.Submission) error
}

// Handler processes one claimed job. A returned error means the job failed
// as a whole; the dispatcher records it via Fail.
type Handler interface {
	Type() jobstore.Type
	Handle(ctx context.Context, handle JobHandle) error
}

// Registry routes claimed jobs to the handler for their type.
type Registry struct {
	handlers map[jobstore.Type]Handler
}

// NewRegistry builds a registry from the given handlers. Registering two
// handlers for one type is a programming error.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	registry := &Registry{handlers: make(map[jobstore.Type]Handler, len(handlers))}
	for _, handler := range handlers {
		jobType := handler.Type()
		if _, dup := registry.handlers[jobType]; dup {
			return nil, fmt.Errorf("handlers: duplicate handler for type %q", jobType)
		}
		registry.handlers[jobType] = handler
	}
	return registry, nil
}

// Lookup returns the handler for the job type, or nil when the worker does
// not know the type.
func (r *Registry) Lookup(jobType jobstore.Type) Handler {
	return r.handlers[jobType]
}

// Types returns the registered job types.
func (r *Registry) Types() []jobstore.Type {
	types := make([]jobstore.Type, 0, len(r.handlers))
	for _, jobType := range jobstore.KnownTypes() {
		if _, ok := r.handlers[jobType]; ok {
			types = append(types, jobType)
		}
	}
	return types
}
