// Package store connects server-side lists to the outside world.
//
// Bind keeps a group.List in step with a record store: every Change read
// from a channel is applied through the list's server API, so subscribers
// see it like any other update. Feed is a small in-process publisher that a
// record store's post-save hook can write to.
//
//	feed := store.NewFeed(64)
//	go store.Bind(ctx, todos, feed.Subscribe(), logger)
//	...
//	feed.Publish(ctx, store.Created(todo.ID, todo))
//
// Snapshotter persists list contents to a SnapshotStore so that server-side
// state survives a restart. Three backends are provided:
//
//   - MemoryStore: process-local, for tests and single runs
//   - S3Store: one JSON object per list in an S3 bucket
//   - RedisStore: one key per list, for any go-redis compatible client
//
// Snapshots are restored once at startup with Restore and then saved every
// interval by Run, plus a final save when Run's context ends.
package store
