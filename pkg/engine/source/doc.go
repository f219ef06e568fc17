// Package source provides rule definition sources for the engine: an
// in-memory source for tests and programmatic use, and a file source that
// loads YAML rule files from a file or directory and watches for changes
// with fsnotify.
//
// Sources only load and watch; the caller (typically the CLI or the process
// embedding the engine) pushes reloaded definitions into the engine, whose
// registry snapshotting guarantees in-flight runs are unaffected.
package source
