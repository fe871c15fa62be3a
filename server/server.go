// Package server is the server-mode collaborator. agentcli is CLI only, so
// the default implementation refuses to start.
package server

import (
	"context"

	"github.com/m4xw311/agentcli/errors"
)

type Server interface {
	Start(ctx context.Context, addr string) error
}

var ErrUnsupported = errors.New("server not supported in agentcli - CLI only")

type Unsupported struct{}

func (Unsupported) Start(context.Context, string) error { return ErrUnsupported }
