package store

import "errors"

var (
	// ErrStoreClosed is returned by SnapshotStore methods after Close.
	ErrStoreClosed = errors.New("store: closed")

	// ErrFeedClosed is returned by Publish after the feed is closed.
	ErrFeedClosed = errors.New("store: feed closed")

	// ErrUnknownOp is reported for a Change with an unsupported Op.
	ErrUnknownOp = errors.New("store: unknown change op")
)
