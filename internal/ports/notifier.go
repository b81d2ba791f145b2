package ports

import (
	"context"

	"squeezeScanner/internal/domain"
)

// Notifier defines the interface for dispatching live scan alerts.
// A non-nil error means the alert must be treated as un-sent: the scanner
// leaves the cooldown entry untouched so the alert can fire again on the
// next sweep.
type Notifier interface {
	Send(ctx context.Context, alert domain.Alert) error
}
