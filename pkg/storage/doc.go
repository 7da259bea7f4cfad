/*
Package storage persists tasks and node status for the havoc engine.

Two implementations of Store are provided:

	BoltStore    embedded bbolt database, used by the havoc binary
	MemoryStore  map-backed store, used by tests and dry runs

# Layout

BoltStore keeps one file, <dataDir>/havoc.db, with two buckets:

	tasks   task id -> JSON encoded types.Task
	nodes   node id -> JSON encoded node record (status, updated time)

Writes are upserts keyed by id and the last write wins. Tasks carry their
full trigger history, so a restarted process can resume a task at the
substage it last checkpointed.

# Errors

Lookups of missing records return an error wrapping ErrNotFound. Failures to
reach the database (closed handle, lock timeout) wrap ErrUnavailable; the
reconciler and scheduler treat those as transient and log them at debug
level.

	store, err := storage.NewBoltStore("/var/lib/havoc")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AddOrUpdateTask(task); err != nil {
		return err
	}

bbolt allows a single writer process per file. Commands that need the store
while "havoc serve" is running must point at a different data directory.
*/
package storage
