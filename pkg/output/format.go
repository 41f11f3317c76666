// Package output provides utilities for formatting and displaying decision results.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promopilot/promopilot/internal/engine"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PrettyFormat outputs a human-readable rather than machine-readable report.
func PrettyFormat(d *engine.Decision) {
	fmt.Print(PrettyString(d))
}

// PrettyString renders the human-readable report as a string.
func PrettyString(d *engine.Decision) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	fmt.Fprintf(&b, "--- Decision for objective %s (%s) ---\n", d.Objective.Name, d.Objective.SegmentDimension)
	b.WriteString(d.Report.Recommendation + "\n")
	b.WriteString(d.Report.Evidence + "\n")
	b.WriteString(d.Report.Diff + "\n\n")

	fmt.Fprintf(&b, "Segment | Naive level | Corrected level | %s (%s)\n", d.Objective.PrimaryMetric, d.Objective.UnitLabel)
	fmt.Fprintf(&b, "_______ | ___________ | _______________ | _______\n")
	for _, segment := range d.Corrected.Segments() {
		c, _ := d.Corrected.Curve(segment)
		point := c.First()
		if level, ok := d.CorrectedPolicy[segment]; ok {
			if chosen, found := c.PointAt(level); found {
				point = chosen
			}
		}

		naiveLevel := "unset"
		if level, ok := d.NaivePolicy[segment]; ok {
			naiveLevel = fmt.Sprintf("%d", level)
		}
		correctedLevel := "unset"
		if level, ok := d.CorrectedPolicy[segment]; ok {
			correctedLevel = fmt.Sprintf("%d", level)
		}

		_, _ = p.Fprintf(&b, "%s | %s | %s | %.2f\n",
			segment, naiveLevel, correctedLevel, point.Metrics[d.Objective.PrimaryMetric])
	}

	return b.String()
}

// CsvFormat outputs in comma-separated value format.
func CsvFormat(d *engine.Decision) {
	fmt.Print(CsvString(d))
}

// CsvString renders decision rows in comma-separated value format.
func CsvString(d *engine.Decision) string {
	var b strings.Builder

	fmt.Fprintf(&b, `"segment","naive level","corrected level","%s delta"`, d.Objective.PrimaryMetric)
	b.WriteString("\n")

	for _, segment := range d.Corrected.Segments() {
		c, _ := d.Corrected.Curve(segment)

		naivePoint := c.First()
		if level, ok := d.NaivePolicy[segment]; ok {
			if p, found := c.PointAt(level); found {
				naivePoint = p
			}
		}
		correctedPoint := c.First()
		if level, ok := d.CorrectedPolicy[segment]; ok {
			if p, found := c.PointAt(level); found {
				correctedPoint = p
			}
		}

		naiveLevel := ""
		if level, ok := d.NaivePolicy[segment]; ok {
			naiveLevel = fmt.Sprintf("%d", level)
		}
		correctedLevel := ""
		if level, ok := d.CorrectedPolicy[segment]; ok {
			correctedLevel = fmt.Sprintf("%d", level)
		}

		delta := correctedPoint.Metrics[d.Objective.PrimaryMetric] - naivePoint.Metrics[d.Objective.PrimaryMetric]
		fmt.Fprintf(&b, `"%s","%s","%s","%.2f"`, segment, naiveLevel, correctedLevel, delta)
		b.WriteString("\n")
	}

	return b.String()
}

// JSONString renders the export bundle as indented JSON.
func JSONString(d *engine.Decision) (string, error) {
	data, err := json.MarshalIndent(d.Report.Bundle, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
