package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Data.AnnotationsPath = "data/student-annotations.csv"
	s.Data.ProjectCardsPath = "data/project_cards.csv"
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "database/padmatch.db"
	s.Backup.Enabled = true
	s.Backup.Path = "database/backups/"
	s.Backup.OperationTimeout = 120
	s.Backup.Retention = map[string]int{"manual": 5, "auto": 1}
	s.WebServer.Enabled = true
	s.WebServer.Port = "8080"
	s.WebServer.CacheTTL = 30
	return s
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateDataSettings(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Data.AnnotationsPath = "  "
	assert.Error(t, ValidateSettings(s))
}

func TestValidateOutputSettings(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Output.MySQL.Enabled = true
	assert.Error(t, ValidateSettings(s), "both backends enabled")

	s = validSettings()
	s.Output.SQLite.Enabled = false
	assert.Error(t, ValidateSettings(s), "no backend enabled")

	s = validSettings()
	s.Output.SQLite.Enabled = false
	s.Output.MySQL.Enabled = true
	s.Output.MySQL.Host = "localhost"
	s.Output.MySQL.Database = "padmatch"
	s.Output.MySQL.Port = "3306"
	assert.NoError(t, ValidateSettings(s))

	s.Output.MySQL.Port = "not-a-port"
	assert.Error(t, ValidateSettings(s))
}

func TestValidateBackupSettings(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Backup.Retention["manual"] = 0
	assert.Error(t, ValidateSettings(s), "retention must keep at least one snapshot")

	s = validSettings()
	s.Backup.Path = ""
	assert.Error(t, ValidateSettings(s))

	s = validSettings()
	s.Backup.Enabled = false
	s.Backup.Path = ""
	assert.NoError(t, ValidateSettings(s), "disabled backups are not validated")

	s = validSettings()
	s.Backup.SFTP.Enabled = true
	s.Backup.SFTP.Host = "backup.example.org"
	s.Backup.SFTP.Username = "padmatch"
	s.Backup.SFTP.Port = "22"
	assert.NoError(t, ValidateSettings(s))

	s.Backup.SFTP.Username = ""
	assert.Error(t, ValidateSettings(s))
}

func TestValidateWebServerSettings(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.WebServer.Port = "99999"
	assert.Error(t, ValidateSettings(s))

	s = validSettings()
	s.WebServer.CacheTTL = -1
	assert.Error(t, ValidateSettings(s))
}

func TestValidateSecuritySettings(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Security.BasicAuth.Enabled = true
	s.Security.BasicAuth.Username = "curator"
	s.Security.BasicAuth.PasswordHash = "plaintext"
	assert.Error(t, ValidateSettings(s), "password must be a bcrypt hash")

	s.Security.BasicAuth.PasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMye"
	assert.NoError(t, ValidateSettings(s))
}

func TestValidationErrorCollectsAll(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Data.AnnotationsPath = ""
	s.WebServer.Port = "0"

	err := ValidateSettings(s)
	require.Error(t, err)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}
