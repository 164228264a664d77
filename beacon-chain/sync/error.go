package sync

import "github.com/pkg/errors"

var (
	errMissingCollaborator = errors.New("sync service requires a chain and a network sender")
	errSyncQueueFull       = errors.New("sync message queue is full")
	errUnknownRequest      = errors.New("response references an unknown request id")
	errParentLookupTooDeep = errors.New("parent lookup exceeded the depth limit")
)
