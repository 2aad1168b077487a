package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorMuted   = 245 // medium gray
	colorWarn    = 179 // amber
	colorOK      = 114 // green
	colorAlert   = 203 // red
	colorPending = 223 // pale yellow
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderAlert returns s in the alert (red) color.
func RenderAlert(s string) string { return paint(colorAlert, s) }

// RenderStatus colors an order status by how far along it is.
func RenderStatus(status string) string {
	switch status {
	case "PENDING":
		return paint(colorPending, status)
	case "PREPARING":
		return paint(colorWarn, status)
	case "READY":
		return paint(colorOK, status)
	case "CANCELLED":
		return paint(colorAlert, status)
	case "COMPLETED":
		return paint(colorMuted, status)
	}
	return status
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
