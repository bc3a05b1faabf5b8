// Package service contains the application use cases behind the external
// interface: ingesting documents, planning, starting and cancelling
// generation, and reading status, questions and progress.
//
// GenerationService composes the pipeline components. It receives them
// through constructor injection as narrow interfaces, so the API layer and
// tests never depend on a concrete backend.
package service
