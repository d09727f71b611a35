/*
Package storage persists the rollback audit log.

BoltAuditLog keeps every RollbackEvent in a single BoltDB bucket. The key is
the event timestamp (big-endian nanoseconds) followed by the bucket sequence
number, so a cursor walk yields events in timestamp order and events sharing a
timestamp keep their append order. Each Append runs in its own write
transaction; bbolt serialises writers, which makes concurrent appends from
independent decision loops safe without further coordination.

Queries are lazy. The iterator reads a page of events per read transaction and
remembers the last key it returned, so a long audit history is never loaded in
one piece and no read transaction is held between calls to Next. Reset starts
the walk over.

	log, err := storage.NewBoltAuditLog("/var/lib/rollout")
	it := log.Query(storage.Filter{From: since, Lineage: "web"})
	for it.Next() {
		fmt.Println(it.Event().ToRevision)
	}

The log exposes no update or delete operation.
*/
package storage
