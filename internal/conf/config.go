// config.go: This file contains the configuration for the PADMatch application. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// DataSettings contains the paths to the read-only source tables.
type DataSettings struct {
	AnnotationsPath  string // CSV with student annotations (missing_card flags precomputed)
	ProjectCardsPath string // CSV with project cards reference data
}

// SQLiteSettings contains settings for the SQLite ledger store.
type SQLiteSettings struct {
	Enabled bool
	Path    string // path to the ledger database file
}

// MySQLSettings contains settings for the MySQL ledger store.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// OutputSettings selects the ledger store backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MatchingSettings configures the candidate resolver.
type MatchingSettings struct {
	// CameraAliases maps lowercased annotation device nicknames to the
	// canonical camera_type value recorded on project cards. Unknown
	// values pass through unchanged.
	CameraAliases map[string]string
}

// ExportSettings configures the export assembler output.
type ExportSettings struct {
	Path          string // directory for generated export files
	PublicBaseURL string // base URL prepended to processed_file_location for matched_url
}

// SFTPTargetSettings configures the optional offsite snapshot copy.
type SFTPTargetSettings struct {
	Enabled    bool
	Host       string
	Port       string
	Username   string
	Password   string
	KnownHosts string // path to known_hosts file for host key verification
	BasePath   string // remote directory for snapshots
}

// BackupSettings configures snapshotting of the ledger store.
type BackupSettings struct {
	Enabled          bool
	Path             string         // local snapshot directory
	OperationTimeout int            // seconds before a snapshot attempt is abandoned
	Retention        map[string]int // category -> number of snapshots to keep
	SFTP             SFTPTargetSettings
}

// BasicAuthSettings holds the authentication gate credentials.
type BasicAuthSettings struct {
	Enabled      bool
	Username     string
	PasswordHash string // bcrypt hash of the shared password
}

// SecuritySettings contains the authentication configuration.
type SecuritySettings struct {
	BasicAuth BasicAuthSettings
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled  bool
	Debug    bool
	Port     string
	CacheTTL int       // seconds a cached stats/dashboard payload may be served
	Log      LogConfig // web server log settings
}

// Settings contains all configuration options for the PADMatch application.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // name of this node, can be used to identify the instance
		Log  LogConfig // main application log configuration
	}

	Data      DataSettings
	Output    OutputSettings
	Matching  MatchingSettings
	Export    ExportSettings
	Backup    BackupSettings
	Security  SecuritySettings
	WebServer WebServerSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.Mutex
)

// Load reads the configuration into the Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with the config file locations and defaults.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("padmatch")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file found, write the defaults so the user has a template.
		configPath := filepath.Join(configPaths[0], "config.yaml")
		if writeErr := writeDefaultConfig(configPath); writeErr != nil {
			return writeErr
		}
	}

	return nil
}

// writeDefaultConfig marshals the default settings to a YAML config template.
func writeDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error unmarshaling defaults: %w", err)
	}

	yamlData, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, or nil if Load has not been called.
func Setting() *Settings {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml.
// The working directory is first so a local config wins over the user config.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "padmatch"),
	}, nil
}
