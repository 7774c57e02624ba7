package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"pc-deal-watch/internal/domain"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// Router fans an alert out to the notifiers registered for its route.
type Router struct {
	routes map[domain.Route][]Notifier
	logger zerolog.Logger
}

// NewRouter builds an empty router.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		routes: make(map[domain.Route][]Notifier),
		logger: logger.With().Str("component", "alert_router").Logger(),
	}
}

// Register attaches n to every listed route.
func (r *Router) Register(n Notifier, routes ...domain.Route) {
	for _, route := range routes {
		r.routes[route] = append(r.routes[route], n)
	}
}

// Notify delivers to every notifier of the alert's route. A failing channel
// does not stop the others; the errors are joined.
func (r *Router) Notify(ctx context.Context, alert domain.Alert) error {
	var errs []error
	for _, n := range r.routes[alert.Route] {
		if err := n.Notify(ctx, alert); err != nil {
			r.logger.Warn().Err(err).
				Str("product", alert.Decision.Key.Slug()).
				Str("route", string(alert.Route)).
				Msg("告警发送失败")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsoleNotifier prints the rendered alert.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleNotifier writes to out, or stdout when out is nil.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Notify writes the alert followed by a separator.
func (n *ConsoleNotifier) Notify(_ context.Context, alert domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prefix := ""
	if alert.Suppressed {
		prefix = fmt.Sprintf("[%s] ", alert.Route)
	}
	_, err := fmt.Fprintf(n.out, "%s%s\n%s\n", prefix, RenderText(alert), "--------------------------------------------------------------------------------")
	return err
}

// FileLogNotifier appends one tab separated line per alert.
type FileLogNotifier struct {
	mu   sync.Mutex
	path string
}

// NewFileLogNotifier appends to path, creating parent directories on first write.
func NewFileLogNotifier(path string) *FileLogNotifier {
	return &FileLogNotifier{path: path}
}

// Notify appends the alert line.
func (n *FileLogNotifier) Notify(_ context.Context, alert domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if dir := filepath.Dir(n.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create alert log dir: %w", err)
		}
	}
	f, err := os.OpenFile(n.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, RenderLine(alert)); err != nil {
		return fmt.Errorf("write alert log: %w", err)
	}
	return nil
}

var (
	_ Notifier = (*Router)(nil)
	_ Notifier = (*ConsoleNotifier)(nil)
	_ Notifier = (*FileLogNotifier)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
)
