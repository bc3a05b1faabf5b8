// Package main is the questgen service binary. It serves the HTTP API and
// the worker pool, and applies database migrations.
package main

func main() {
	Execute()
}
