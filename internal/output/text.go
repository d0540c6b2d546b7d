package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portsweep/internal/scanning"
)

func writeText(w io.Writer, report *scanning.Report, opts Options) error {
	target := report.Host
	if report.Address != "" && report.Address != report.Host {
		target = fmt.Sprintf("%s (%s)", report.Host, report.Address)
	}
	fmt.Fprintf(w, "Scan of %s ports %s: %s\n", target, report.PortRange, report.State)

	if len(report.OpenPorts) == 0 {
		fmt.Fprintln(w, "No open ports found")
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("Port", "State")
		for _, port := range report.OpenPorts {
			_ = table.Append([]string{strconv.Itoa(port), string(scanning.StateOpen)})
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if opts.ShowCounts {
		table := tablewriter.NewWriter(w)
		table.Header("Outcome", "Ports")
		_ = table.Append([]string{"open", strconv.Itoa(report.Counts.Open)})
		_ = table.Append([]string{"closed", strconv.Itoa(report.Counts.Closed)})
		_ = table.Append([]string{"timeout", strconv.Itoa(report.Counts.Timeout)})
		_ = table.Append([]string{"error", strconv.Itoa(report.Counts.Error)})
		_ = table.Append([]string{"total", strconv.Itoa(report.Counts.Total)})
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "%d port(s) failed: %s\n", len(report.Errors), summarizeErrors(report.Errors))
		if hasReason(report.Errors, scanning.ReasonResourceExhausted) {
			fmt.Fprintln(w, "Hint: out of sockets or descriptors; lower --concurrency or raise the open file limit")
		}
	}

	fmt.Fprintf(w, "Open ports: %s\n", JoinPorts(report.OpenPorts))
	fmt.Fprintf(w, "Elapsed: %s\n", report.Elapsed.Round(time.Millisecond))
	return nil
}

// JoinPorts formats ports as a comma separated list, or "none".
func JoinPorts(ports []int) string {
	if len(ports) == 0 {
		return "none"
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

// summarizeErrors groups port errors by reason, keeping first-seen order.
func summarizeErrors(errs []scanning.PortError) string {
	counts := make(map[string]int)
	var order []string
	for _, e := range errs {
		if counts[e.Reason] == 0 {
			order = append(order, e.Reason)
		}
		counts[e.Reason]++
	}

	parts := make([]string, len(order))
	for i, reason := range order {
		parts[i] = fmt.Sprintf("%s=%d", reason, counts[reason])
	}
	return strings.Join(parts, " ")
}

func hasReason(errs []scanning.PortError, reason string) bool {
	for _, e := range errs {
		if e.Reason == reason {
			return true
		}
	}
	return false
}
