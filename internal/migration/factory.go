package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/ventureflow/config"
)

// NewMigratorFromDatabaseConfig builds a migrator from the service's
// database settings. Only postgres schemas are migrated; the sqlite
// driver exists for tests, which create their schema programmatically.
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	if dbCfg.Driver != "postgres" {
		return nil, fmt.Errorf("migrations require the postgres driver, got %q", dbCfg.Driver)
	}
	return NewMigrator(&Config{
		DatabaseURL: dbCfg.DSN,
		TableName:   "schema_migrations",
	})
}

// NewMigratorFromURL builds a migrator from an explicit postgres URL.
func NewMigratorFromURL(dbURL string) (*DefaultMigrator, error) {
	return NewMigrator(&Config{
		DatabaseURL: dbURL,
		TableName:   "schema_migrations",
	})
}
