// Package share is the session sharing collaborator. Sharing is not
// supported by this CLI; Sync and Remove succeed without doing anything.
package share

import (
	"context"

	"github.com/m4xw311/agentcli/errors"
)

// Sharer publishes sessions.
type Sharer interface {
	Create(ctx context.Context, sessionID string) (string, error)
	Sync(ctx context.Context, sessionID string) error
	Remove(ctx context.Context, sessionID string) error
}

// ErrUnsupported is returned by Unsupported.Create.
var ErrUnsupported = errors.New("share not supported in agentcli")

type Unsupported struct{}

func (Unsupported) Create(context.Context, string) (string, error) { return "", ErrUnsupported }
func (Unsupported) Sync(context.Context, string) error             { return nil }
func (Unsupported) Remove(context.Context, string) error           { return nil }
