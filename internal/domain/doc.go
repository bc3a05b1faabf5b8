// Package domain contains the core entities of the question generation
// pipeline: documents and their chunks, plans, jobs, tasks, stored questions
// and progress events. Status changes on jobs and tasks go through named
// transition functions so an illegal move is rejected where it is attempted.
package domain
