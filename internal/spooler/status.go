package spooler

import (
	"context"
	"strings"
)

// PrinterStatus is the coarse health of the configured printer.
type PrinterStatus struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	StateMessage string `json:"state_message"`
	Accepting    bool   `json:"accepting"`
}

// StatusSource is implemented by adapters that can report printer health
// alongside the job operations of Adapter.
type StatusSource interface {
	PrinterStatus(ctx context.Context) (*PrinterStatus, error)
}

// Printer states as reported by lpstat.
const (
	PrinterIdle       = "idle"
	PrinterProcessing = "processing"
	PrinterStopped    = "stopped"
)

func (c *CUPS) PrinterStatus(ctx context.Context) (*PrinterStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pOut, pErr, err := c.run(ctx, "lpstat", "-p", c.printer)
	if err != nil {
		return nil, classifyError(ctx, pErr, err)
	}
	status := parsePrinterStatus(pOut, c.printer)

	if aOut, _, err := c.run(ctx, "lpstat", "-a", c.printer); err == nil {
		status.Accepting = strings.Contains(aOut, "accepting requests")
	}
	return status, nil
}

// parsePrinterStatus reads `lpstat -p <printer>` output:
//
//	printer Office_Laser is idle.  enabled since Mon 01 Jan 2026
//	printer Office_Laser now printing Office_Laser-42. ...
func parsePrinterStatus(out, printer string) *PrinterStatus {
	status := &PrinterStatus{Name: printer, State: PrinterStopped}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "printer "+printer) {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "is idle"):
			status.State = PrinterIdle
		case strings.Contains(lower, "now printing"):
			status.State = PrinterProcessing
		case strings.Contains(lower, "disabled"):
			status.State = PrinterStopped
		}
		status.StateMessage = line
		break
	}
	return status
}
