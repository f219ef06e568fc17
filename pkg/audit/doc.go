// Package audit provides a durable trail of rule engine activity.
//
// Two kinds of events are recorded:
//
//   - Action events, produced by the engine's audit action or by any
//     action executor wired to a Recorder as its audit sink.
//   - Run events, produced when a Recorder observes a completed run.
//
// Records are persisted through the Storage interface. Two backends are
// provided: MemoryStorage for tests and short-lived processes, and
// SQLiteStorage for durable single-node deployments. The retention
// subpackage prunes old records on a cron schedule.
package audit
