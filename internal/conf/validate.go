// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateDataSettings(&settings.Data); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateBackupSettings(&settings.Backup); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateSecuritySettings(&settings.Security); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}

	return nil
}

func validateDataSettings(data *DataSettings) error {
	if strings.TrimSpace(data.AnnotationsPath) == "" {
		return errors.New("data.annotationspath must not be empty")
	}
	if strings.TrimSpace(data.ProjectCardsPath) == "" {
		return errors.New("data.projectcardspath must not be empty")
	}
	return nil
}

func validateOutputSettings(output *OutputSettings) error {
	if output.SQLite.Enabled && output.MySQL.Enabled {
		return errors.New("output: enable either sqlite or mysql, not both")
	}
	if !output.SQLite.Enabled && !output.MySQL.Enabled {
		return errors.New("output: no ledger store enabled")
	}
	if output.SQLite.Enabled && strings.TrimSpace(output.SQLite.Path) == "" {
		return errors.New("output.sqlite.path must not be empty")
	}
	if output.MySQL.Enabled {
		if output.MySQL.Host == "" || output.MySQL.Database == "" {
			return errors.New("output.mysql requires host and database")
		}
		if _, err := strconv.Atoi(output.MySQL.Port); err != nil {
			return fmt.Errorf("output.mysql.port must be numeric: %w", err)
		}
	}
	return nil
}

func validateBackupSettings(backup *BackupSettings) error {
	if !backup.Enabled {
		return nil
	}
	if strings.TrimSpace(backup.Path) == "" {
		return errors.New("backup.path must not be empty when backups are enabled")
	}
	if backup.OperationTimeout <= 0 {
		return errors.New("backup.operationtimeout must be positive")
	}
	for category, keep := range backup.Retention {
		if keep < 1 {
			return fmt.Errorf("backup.retention.%s must keep at least one snapshot", category)
		}
	}
	if backup.SFTP.Enabled {
		if backup.SFTP.Host == "" || backup.SFTP.Username == "" {
			return errors.New("backup.sftp requires host and username")
		}
		if _, err := strconv.Atoi(backup.SFTP.Port); err != nil {
			return fmt.Errorf("backup.sftp.port must be numeric: %w", err)
		}
	}
	return nil
}

func validateWebServerSettings(ws *WebServerSettings) error {
	if !ws.Enabled {
		return nil
	}
	if port, err := strconv.Atoi(ws.Port); err != nil || port < 1 || port > 65535 {
		return errors.New("webserver.port must be a number between 1 and 65535")
	}
	if ws.CacheTTL < 0 {
		return errors.New("webserver.cachettl must not be negative")
	}
	return nil
}

func validateSecuritySettings(security *SecuritySettings) error {
	if !security.BasicAuth.Enabled {
		return nil
	}
	if security.BasicAuth.Username == "" {
		return errors.New("security.basicauth.username must not be empty when auth is enabled")
	}
	if !strings.HasPrefix(security.BasicAuth.PasswordHash, "$2") {
		return errors.New("security.basicauth.passwordhash must be a bcrypt hash")
	}
	return nil
}
