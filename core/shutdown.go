package core

import (
	"context"
)

// ShutdownFunc releases one resource during shutdown. ctx carries the
// remaining shutdown budget; http.Server.Shutdown already has this shape.
//
//	manager.Register("history-db", 30, func(ctx context.Context) error {
//	    return history.Close()
//	})
type ShutdownFunc func(ctx context.Context) error
