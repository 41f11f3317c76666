// Package constants provides shared constants for the promopilot application.
package constants

// Scaling constants
const (
	// DefaultPerUnit is the observation denominator dose-response metrics are
	// expressed against (outcomes per 10,000 observations).
	DefaultPerUnit = 10000.0

	// AnnualWeeks is the number of weeks used to scale weekly projections to
	// annual projections.
	AnnualWeeks = 52.0

	// DecimalPrecision is the precision for rounding displayed values (2 decimal places)
	DecimalPrecision = 100
)

// DefaultLevelSet is the discrete treatment level set used when the
// configuration does not provide one.
var DefaultLevelSet = []int{0, 5, 10, 15, 20}

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatJSON is the export-bundle JSON output format
	OutputFormatJSON = "json"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// DefaultArtifactDir is the default artifact directory
	DefaultArtifactDir = "artifacts"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address
	DefaultServerAddress = ":8080"

	// DefaultMaxBodyBytes is the default request body limit for the API
	DefaultMaxBodyBytes = 1 << 20
)

// ExportSchemaVersion identifies the export bundle schema; bump when the
// bundle shape changes in a way consumers must detect.
const ExportSchemaVersion = 1
