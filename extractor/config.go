package extractor

import (
	"github.com/aqlanhadi/datsync/extractor/common"
	"github.com/spf13/viper"
)

// ShapeConfig is one record shape: a regex with exactly three capture groups
// yielding the date, amount and mobile tokens, in that order.
type ShapeConfig struct {
	Name    string `mapstructure:"name" json:"name"`
	Pattern string `mapstructure:"pattern" json:"pattern"`
}

type Config struct {
	// Marker is the substring every transaction copy line carries.
	Marker string
	// StatusPattern anchors the status segment; group 1 is the 14 digit
	// YYYYMMDDHHMMSS timestamp.
	StatusPattern string
	// TransactionIDPattern is what must follow the date token for the run
	// to count as a transaction id.
	TransactionIDPattern string
	// Shapes are tried in order, the first match wins.
	Shapes          []ShapeConfig
	MaxLoggedErrors int
	MaxLineBytes    int
}

const (
	defaultMaxLoggedErrors = 5
	defaultMaxLineBytes    = 1 << 20
)

// DefaultConfig mirrors the extractor section of the embedded configuration.
func DefaultConfig() Config {
	return Config{
		Marker:               "TRXCOPY",
		StatusPattern:        `(?i)AUTH\s*CANCELL?ED\s*(\d{14})\s*(?:POS|ATM|MOB|WEB|USSD|IB)`,
		TransactionIDPattern: `[A-Za-z][A-Za-z0-9]{4,}`,
		Shapes: []ShapeConfig{
			{Name: common.ShapePrimary, Pattern: `(\d{8})\s*(\d{20})\s*(\d{9,12})`},
			{Name: common.ShapeAlternative, Pattern: `(\d{8})\s*(\d{15,25})\s*(\d{8,12})`},
		},
		MaxLoggedErrors: defaultMaxLoggedErrors,
		MaxLineBytes:    defaultMaxLineBytes,
	}
}

// LoadConfig reads the extractor section from viper, falling back to the
// defaults for anything left unset.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := viper.GetString("extractor.marker"); v != "" {
		cfg.Marker = v
	}
	if v := viper.GetString("extractor.status_pattern"); v != "" {
		cfg.StatusPattern = v
	}
	if v := viper.GetString("extractor.transaction_id_pattern"); v != "" {
		cfg.TransactionIDPattern = v
	}
	if viper.IsSet("extractor.max_logged_errors") {
		cfg.MaxLoggedErrors = viper.GetInt("extractor.max_logged_errors")
	}
	if v := viper.GetInt("extractor.max_line_bytes"); v > 0 {
		cfg.MaxLineBytes = v
	}

	var shapes []ShapeConfig
	if err := viper.UnmarshalKey("extractor.shapes", &shapes); err == nil && len(shapes) > 0 {
		cfg.Shapes = shapes
	}

	return cfg
}
