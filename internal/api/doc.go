// Package api exposes the generation service over HTTP: document ingestion,
// planning, generation control, status and question queries, and live
// progress as server-sent events or websocket messages. Errors are mapped
// to status codes with sanitized messages; details only reach the logs,
// redacted.
package api
