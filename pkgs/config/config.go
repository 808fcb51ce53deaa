// Package config loads and validates the agent configuration. All
// configuration errors are fatal at startup, before any network activity:
// a misconfigured agent must not get as far as opening a mailbox.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/spamreport/agent/pkgs/triage"
)

const (
	// MaxLoopHours bounds the iteration frequency.
	MaxLoopHours = 48
	// MaxWindowHours bounds the search window (7 days).
	MaxWindowHours = 168

	placeholderAccount  = "YOUR_ACCOUNT_HERE"
	placeholderPassword = "YOUR_APP_PASSWORD_HERE"
	placeholderReport   = "YOUR_REPORT_ADDRESS_HERE"
)

// Endpoint holds one server address.
type Endpoint struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Config is the full agent configuration surface.
type Config struct {
	// Account is the mailbox address; its app password authenticates both
	// the mail-access and the submission connection.
	Account     string `mapstructure:"account"`
	AppPassword string `mapstructure:"app_password"`

	IMAP Endpoint `mapstructure:"imap"`
	SMTP Endpoint `mapstructure:"smtp"`

	// ReportAddress receives the forwarded bundle.
	ReportAddress string `mapstructure:"report_address"`

	// BaseDirectory is where per-iteration download directories are created;
	// StateDirectory holds the persisted registry, cache and markers.
	BaseDirectory  string `mapstructure:"base_directory"`
	StateDirectory string `mapstructure:"state_directory"`

	// LoopHours is the pause between iterations (0 < h <= 48). WindowHours
	// is how far back each search reaches (0 < h <= 168); it defaults to
	// LoopHours so no window is ever skipped.
	LoopHours   float64 `mapstructure:"loop_hours"`
	WindowHours float64 `mapstructure:"window_hours"`

	// Simulate performs every step except the final dispatch.
	Simulate bool `mapstructure:"simulate"`

	// FolderPreview logs a message-count table for all folders on the first
	// run, to help the operator spot the right spam folder.
	FolderPreview bool `mapstructure:"folder_preview"`

	// SpamFolder optionally names the spam folder explicitly. It is still
	// subject to the classifier's safety checks.
	SpamFolder string `mapstructure:"spam_folder"`

	Exclude      []string `mapstructure:"exclude"`
	ForceInclude []string `mapstructure:"force_include"`
}

// Rules returns the triage rule set from the configured lists.
func (c *Config) Rules() triage.Rules {
	return triage.Rules{Exclude: c.Exclude, ForceInclude: c.ForceInclude}
}

// Load reads the configuration file at path, applies defaults and env
// overrides (SPAMREPORT_*), and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SPAMREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Credentials are the keys most likely to arrive via environment only.
	v.BindEnv("account")
	v.BindEnv("app_password")
	v.BindEnv("report_address")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// App passwords are issued with spaces; the servers want them without.
	cfg.AppPassword = strings.ReplaceAll(cfg.AppPassword, " ", "")

	if cfg.WindowHours == 0 {
		cfg.WindowHours = cfg.LoopHours
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("base_directory", "downloads")
	v.SetDefault("state_directory", "state")
	v.SetDefault("loop_hours", 5.0)
	v.SetDefault("simulate", true)
	v.SetDefault("folder_preview", true)
}

// Validate checks ranges, placeholder values and rule conflicts. Any error
// here must abort the process before a single connection is opened.
func (c *Config) Validate() error {
	var placeholders []string
	if c.Account == "" || strings.Contains(c.Account, placeholderAccount) {
		placeholders = append(placeholders, "account")
	}
	if c.AppPassword == "" || strings.Contains(c.AppPassword, placeholderPassword) {
		placeholders = append(placeholders, "app_password")
	}
	if c.ReportAddress == "" || strings.Contains(c.ReportAddress, placeholderReport) {
		placeholders = append(placeholders, "report_address")
	}
	if len(placeholders) > 0 {
		return fmt.Errorf("configuration incomplete, please fill in: %s", strings.Join(placeholders, ", "))
	}

	if c.LoopHours <= 0 {
		return fmt.Errorf("loop_hours must be greater than 0")
	}
	if c.LoopHours > MaxLoopHours {
		return fmt.Errorf("loop_hours (%g) exceeds maximum of %d hours", c.LoopHours, MaxLoopHours)
	}
	if c.WindowHours <= 0 {
		return fmt.Errorf("window_hours must be greater than 0")
	}
	if c.WindowHours > MaxWindowHours {
		return fmt.Errorf("window_hours (%g) exceeds maximum of %d hours (7 days)", c.WindowHours, MaxWindowHours)
	}

	if err := c.Rules().Validate(); err != nil {
		return fmt.Errorf("keyword rules: %w", err)
	}
	return nil
}

// exampleConfig is written by WriteExample with placeholder credentials.
const exampleConfig = `# spamreport configuration.
# Do NOT commit this file once you have filled in your credentials.

# Mailbox receiving spam. The app password is a revocable application
# credential (spaces are stripped automatically).
account: ` + placeholderAccount + `
app_password: ` + placeholderPassword + `

imap:
  host: imap.gmail.com
  port: 993
smtp:
  host: smtp.gmail.com
  port: 587

# Where the spam report bundle is sent.
report_address: ` + placeholderReport + `

base_directory: downloads
state_directory: state

# Run every N hours (0 < h <= 48).
loop_hours: 5
# Search the past N hours (0 < h <= 168). Defaults to loop_hours.
window_hours: 5

# Simulation performs every step except the final dispatch and never marks
# messages as forwarded. Set to false when you are ready.
simulate: true

# Log a message-count table for every folder on the first run.
folder_preview: true

# Explicit spam folder name, if auto-discovery picks the wrong one.
spam_folder: ""

# Sender/keyword patterns that suppress forwarding, and keywords that
# always force a message through. The lists must not overlap.
exclude: []
force_include: []
`

// WriteExample writes a placeholder configuration file. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
