// Package docstore defines the core types, collaborator contracts and helpers of a
// document database client built around a unit-of-work session.
//
// The session engine itself lives in the session package: it tracks the entities an
// application loaded or stored, detects which of them changed and builds one ordered
// batch of commands per save. Document stores (in-memory, Redis, Cassandra, S3, SQL,
// file system and the HTTP gateway client) live in subpackages and plug in through
// the Transport and DocumentReader contracts declared here.
//
// Use the database package to open sessions:
//
//	db, _ := database.Open(docstore.DefaultOptions(), inmemory.NewStore())
//	s := db.NewSession()
//	_ = s.Store(&Item{Name: "pen"})
//	_ = s.SaveChanges(ctx)
package docstore

// Concurrency model
//
// A session is a single-owner, single-threaded unit of work and carries no locks.
// Backends, observers and listeners are shared across sessions and must be safe for
// concurrent use. Transport.Execute is the only blocking call of a save, the plan is
// built before it and reconciled after it. A failed or cancelled save leaves the
// session's tracking state as it was before the call.
