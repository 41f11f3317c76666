// Package validation provides request and configuration validation utilities.
package validation

import (
	"fmt"

	"github.com/promopilot/promopilot/pkg/constants"
)

// ValidateOutputFormat checks that the requested output format is supported.
func ValidateOutputFormat(format string) error {
	switch format {
	case constants.OutputFormatPretty, constants.OutputFormatCSV, constants.OutputFormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format %q; must be one of %s, %s, %s",
			format, constants.OutputFormatPretty, constants.OutputFormatCSV, constants.OutputFormatJSON)
	}
}

// ValidateLevel checks that a requested treatment level belongs to the
// configured discrete level set.
func ValidateLevel(level int, levelSet []int) error {
	for _, l := range levelSet {
		if l == level {
			return nil
		}
	}
	return fmt.Errorf("level %d must match an allowed treatment level: %v", level, levelSet)
}

// ValidateChoice checks that value is one of the allowed names.
func ValidateChoice(field, value string, allowed []string) error {
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q; must be one of %v", field, value, allowed)
}
