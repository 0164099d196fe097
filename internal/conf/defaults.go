// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "PADMatch")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "padmatch.log")

	viper.SetDefault("data.annotationspath", "data/student-annotations.csv")
	viper.SetDefault("data.projectcardspath", "data/project_cards.csv")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "database/padmatch.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "padmatch")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "padmatch")

	// Device nicknames used by annotators mapped to the camera_type values
	// recorded on project cards.
	viper.SetDefault("matching.cameraaliases", map[string]string{
		"nokia": "HMD Global Nokia 2.3",
		"ipad":  "iPad",
		"pixel": "Google Pixel 3a",
	})

	viper.SetDefault("export.path", "exports/")
	viper.SetDefault("export.publicbaseurl", "https://pad.crc.nd.edu")

	viper.SetDefault("backup.enabled", true)
	viper.SetDefault("backup.path", "database/backups/")
	viper.SetDefault("backup.operationtimeout", 120)
	viper.SetDefault("backup.retention", map[string]int{
		"manual": 5,
		"auto":   1,
		"export": 3,
		"import": 3,
	})
	viper.SetDefault("backup.sftp.enabled", false)
	viper.SetDefault("backup.sftp.port", "22")
	viper.SetDefault("backup.sftp.basepath", "padmatch-backups")

	viper.SetDefault("security.basicauth.enabled", false)
	viper.SetDefault("security.basicauth.username", "padmatch")
	viper.SetDefault("security.basicauth.passwordhash", "")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.cachettl", 30)
	viper.SetDefault("webserver.log.enabled", true)
	viper.SetDefault("webserver.log.path", "webserver.log")
}
