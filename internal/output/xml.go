package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/portsweep/internal/scanning"
)

// ReportXML is the root element for XML serialization of a report.
type ReportXML struct {
	XMLName   xml.Name        `xml:"scanreport"`
	JobID     string          `xml:"job_id,attr"`
	State     string          `xml:"state,attr"`
	StartTime string          `xml:"start_time,attr"`
	EndTime   string          `xml:"end_time,attr"`
	Duration  string          `xml:"duration,attr"`
	Host      string          `xml:"Host"`
	Address   string          `xml:"Address,omitempty"`
	MinPort   int             `xml:"PortRange>Min"`
	MaxPort   int             `xml:"PortRange>Max"`
	Ports     []PortXML       `xml:"Ports>Port,omitempty"`
	Errors    []PortErrorXML  `xml:"Errors>Error,omitempty"`
	Counts    scanning.Counts `xml:"Counts"`
}

// PortXML is one open port.
type PortXML struct {
	Number int    `xml:"number,attr"`
	State  string `xml:"state,attr"`
}

// PortErrorXML is one failed port.
type PortErrorXML struct {
	Number int    `xml:"number,attr"`
	Reason string `xml:"reason,attr"`
}

func toXML(report *scanning.Report) *ReportXML {
	doc := &ReportXML{
		JobID:     report.JobID,
		State:     string(report.State),
		StartTime: report.StartedAt.Format(time.RFC3339Nano),
		EndTime:   report.FinishedAt.Format(time.RFC3339Nano),
		Duration:  report.Elapsed.String(),
		Host:      report.Host,
		Address:   report.Address,
		MinPort:   report.PortRange.Min,
		MaxPort:   report.PortRange.Max,
		Counts:    report.Counts,
	}
	for _, p := range report.OpenPorts {
		doc.Ports = append(doc.Ports, PortXML{Number: p, State: string(scanning.StateOpen)})
	}
	for _, e := range report.Errors {
		doc.Errors = append(doc.Errors, PortErrorXML{Number: e.Port, Reason: e.Reason})
	}
	return doc
}

func fromXML(doc *ReportXML) (*scanning.Report, error) {
	report := &scanning.Report{
		JobID:     doc.JobID,
		Host:      doc.Host,
		Address:   doc.Address,
		PortRange: scanning.PortRange{Min: doc.MinPort, Max: doc.MaxPort},
		State:     scanning.JobState(doc.State),
		Counts:    doc.Counts,
		OpenPorts: make([]int, 0, len(doc.Ports)),
		Errors:    make([]scanning.PortError, 0, len(doc.Errors)),
	}
	for _, p := range doc.Ports {
		report.OpenPorts = append(report.OpenPorts, p.Number)
	}
	for _, e := range doc.Errors {
		report.Errors = append(report.Errors, scanning.PortError{Port: e.Number, Reason: e.Reason})
	}

	var err error
	if doc.StartTime != "" {
		if report.StartedAt, err = time.Parse(time.RFC3339Nano, doc.StartTime); err != nil {
			return nil, fmt.Errorf("invalid start_time: %w", err)
		}
	}
	if doc.EndTime != "" {
		if report.FinishedAt, err = time.Parse(time.RFC3339Nano, doc.EndTime); err != nil {
			return nil, fmt.Errorf("invalid end_time: %w", err)
		}
	}
	if doc.Duration != "" {
		if report.Elapsed, err = time.ParseDuration(doc.Duration); err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
	}
	return report, nil
}

func writeXML(w io.Writer, report *scanning.Report) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(toXML(report)); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Load reads a report saved by Save. The format is chosen from the file
// extension; text reports cannot be loaded.
func Load(path string) (*scanning.Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer file.Close()

	var report scanning.Report
	switch FormatFromPath(path) {
	case FormatXML:
		var doc ReportXML
		if err := xml.NewDecoder(file).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode XML report: %w", err)
		}
		return fromXML(&doc)
	case FormatYAML:
		if err := yaml.NewDecoder(file).Decode(&report); err != nil {
			return nil, fmt.Errorf("failed to decode YAML report: %w", err)
		}
	case FormatJSON:
		if err := json.NewDecoder(file).Decode(&report); err != nil {
			return nil, fmt.Errorf("failed to decode JSON report: %w", err)
		}
	default:
		return nil, fmt.Errorf("cannot load text report %s", path)
	}
	return &report, nil
}
