// Package store defines the persistence interfaces for documents, chunks,
// plans, jobs, tasks, questions and progress events, together with the
// shared error values and transaction helpers their implementations use.
package store
