// Package taskgrid provides a single-instance task control plane: it
// accepts units of work, schedules them onto a pool of workers under
// priority and timeout constraints, tracks their lifecycle through a
// strict state machine, and exposes lifecycle, metrics, and logs over
// unary and server-streaming gRPC.
//
// # Quick Start
//
//	eng := engine.New(
//	    engine.WithConfig(taskgrid.DefaultConfig()),
//	)
//	eng.Registry().Register("email", sendEmail)
//	err := eng.Start(ctx)
//
// # Architecture
//
// The task store is the single source of truth. Every task mutation goes
// through its compare-and-set transition API, which serializes concurrent
// transitions on the same task id while letting different ids proceed
// independently. The priority queue orders pending work, the dispatcher
// assigns it to workers and arms per-task timeout timers, and the
// observability hub aggregates metrics and logs for streaming queries.
//
// Worker and subscriber IDs use TypeID — type-prefixed, K-sortable,
// UUIDv7-based identifiers. Task ids are caller-supplied opaque strings.
package taskgrid
