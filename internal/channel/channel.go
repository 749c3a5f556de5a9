// Package channel connects chat surfaces to the message bus. Adapters
// translate platform traffic into bus messages and back; the manager owns
// their lifecycle.
package channel

import (
	"context"

	"github.com/rooniethecat/roonie/internal/bus"
)

// Channel is one chat surface adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}
