package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
)

// Console implements ports.Notifier by writing one formatted line per alert.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier that writes to w, used in tests and
// when output capture is wanted.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Send writes a single line describing the alert.
func (c *Console) Send(_ context.Context, alert domain.Alert) error {
	if _, err := fmt.Fprintln(c.out, FormatAlert(alert)); err != nil {
		return fmt.Errorf("console notifier write: %w: %w", ports.ErrNotifierFailed, err)
	}
	return nil
}

// FormatAlert renders an alert as a single plain-text line.
func FormatAlert(a domain.Alert) string {
	squeeze := "no"
	if a.VolatilityCompressed {
		squeeze = "yes"
	}
	return fmt.Sprintf("[%s] %-12s %s price=%.2f rsi=%.1f bandpos=%.2f widthpctl=%.2f squeeze=%s",
		a.Timestamp.UTC().Format("2006-01-02 15:04"),
		kindLabel(a.Kind), a.Symbol,
		a.Price, a.RSI, a.BandPosition, a.BandWidthPercentile, squeeze)
}

// kindLabel renders the signal kind as an uppercase human label.
func kindLabel(kind domain.SignalKind) string {
	return strings.ToUpper(strings.ReplaceAll(string(kind), "-", " "))
}
