package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kalambet/ticketboard/internal/remote"
	"github.com/kalambet/ticketboard/internal/ticket"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(w, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func priorityColor(p ticket.Priority) string {
	switch p {
	case ticket.PriorityHigh:
		return colorRed
	case ticket.PriorityMedium:
		return colorYellow
	default:
		return colorGreen
	}
}

func writeTickets(w io.Writer, tickets []ticket.Ticket) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tASSIGNEE\tTITLE")
	for _, t := range tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, colorize(priorityColor(t.Priority), string(t.Priority)), t.Assignee, t.Title)
	}
	return tw.Flush()
}

func writeTicket(w io.Writer, t ticket.Ticket) {
	printStatus(w, "ID", "%s", t.ID)
	printStatus(w, "Title", "%s", t.Title)
	printStatus(w, "Status", "%s", t.Status.Label())
	printStatus(w, "Priority", "%s", colorize(priorityColor(t.Priority), string(t.Priority)))
	printStatus(w, "Assignee", "%s", t.Assignee)
	printStatus(w, "Created", "%s", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	printStatus(w, "Description", "%s", t.Description)
}

func writeBoard(w io.Writer, cols []ticket.Column) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%d)\n", colorize(colorBold, c.Status.Label()), len(c.Tickets))
		for _, t := range c.Tickets {
			fmt.Fprintf(w, "  %s  [%s] %s (%s)\n",
				t.ID, colorize(priorityColor(t.Priority), string(t.Priority)), t.Title, t.Assignee)
		}
	}
}

func writeHistory(w io.Writer, entries []remote.HistoryEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tEVENT\tCHANGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Kind, statusChange(e.FromStatus, e.ToStatus))
	}
	return tw.Flush()
}

func statusChange(from, to string) string {
	switch {
	case from == "" && to == "":
		return ""
	case from == "":
		return to
	case to == "":
		return from + " ->"
	case from == to:
		return to
	}
	return from + " -> " + to
}

func countLabel(counts map[ticket.Status]int) string {
	parts := make([]string, 0, len(ticket.Statuses))
	for _, s := range ticket.Statuses {
		parts = append(parts, fmt.Sprintf("%s %d", s.Label(), counts[s]))
	}
	return strings.Join(parts, ", ")
}
