package registry

import "context"

// Directory mirrors this instance's online users into shared storage so
// that other processes can read them.
type Directory interface {
	// Sync replaces this instance's published set with users.
	Sync(ctx context.Context, users []string) error
	// Online returns every user published by any live instance.
	Online(ctx context.Context) ([]string, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}

// NoopDirectory is used when no shared store is configured.
type NoopDirectory struct{}

func (NoopDirectory) Sync(context.Context, []string) error { return nil }
func (NoopDirectory) Online(context.Context) ([]string, error) { return []string{}, nil }
func (NoopDirectory) StartHeartbeat(context.Context) error { return nil }
func (NoopDirectory) StopHeartbeat() {}
func (NoopDirectory) Close() error { return nil }
