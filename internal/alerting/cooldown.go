package alerting

import (
	"context"
	"fmt"
	"time"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
)

// Cooldown demotes repeated pushes of the same product and verdict to
// log-only unless the price improved on the last push.
type Cooldown struct {
	alerts storage.AlertStore
	window time.Duration
}

// NewCooldown returns nil when window is not positive; a nil Cooldown is a no-op.
func NewCooldown(alerts storage.AlertStore, window time.Duration) *Cooldown {
	if window <= 0 || alerts == nil {
		return nil
	}
	return &Cooldown{alerts: alerts, window: window}
}

// Apply returns the alert to emit. It never un-suppresses an alert.
func (c *Cooldown) Apply(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	if c == nil || alert.Suppressed || alert.Route != domain.RoutePush {
		return alert, nil
	}

	last, found, err := c.alerts.LastPushedAlert(ctx, alert.Decision.Key.Slug())
	if err != nil {
		return alert, fmt.Errorf("load last pushed alert: %w", err)
	}
	if !found || last.Verdict != string(alert.Decision.Verdict) {
		return alert, nil
	}
	if alert.CreatedAt.Sub(last.CreatedAt) >= c.window {
		return alert, nil
	}
	if alert.Decision.Observation.Price.LessThan(last.Price) {
		return alert, nil
	}

	alert.Suppressed = true
	alert.Route = domain.RouteLogOnly
	alert.Reason += fmt.Sprintf("; cooldown: già notificato a %s€ il %s",
		last.Price.StringFixed(2), last.CreatedAt.UTC().Format(time.RFC3339))
	return alert, nil
}
