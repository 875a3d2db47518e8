package booking

//go:generate go run go.uber.org/mock/mockgen -source=collaborators.go -destination=mocks/mock_collaborators.go -package=mocks

import (
	"context"

	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// FormsChecker answers whether the intake forms of a booking are complete.
type FormsChecker interface {
	FormsComplete(ctx context.Context, ref string) (bool, error)
}

// Notifier delivers required actions after a transition commits.
type Notifier interface {
	Notify(ctx context.Context, ref string, actions []flow.Action) error
}

// GatewayVerifier asks the payment gateway for the authoritative status of a transaction.
type GatewayVerifier interface {
	Verify(ctx context.Context, externalTransactionID string) (*callback.GatewayStatus, error)
}
