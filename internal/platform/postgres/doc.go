// Package postgres provides PostgreSQL implementations of the store
// interfaces, the durable job queue and the embedded schema migrations.
// Stores accept a store.DBTX so the same code runs on a pool or inside a
// transaction.
package postgres
