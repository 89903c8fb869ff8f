// Package history persists published entity states to the local SQLite
// store.
//
// Every state change the bridge publishes is appended here with the
// device, entity, payload and source, so recent history stays queryable
// through the REST API even when InfluxDB is disabled or unreachable.
// Entries are pruned on a retention window rather than kept forever.
package history
