package history

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/bmsctl/battery.db"
	defaultBackupDir = "/var/lib/bmsctl/backups"
)

type Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Path            string `mapstructure:"path"`
	BackupDir       string `mapstructure:"backup_dir"`
	BackupOnMigrate bool   `mapstructure:"backup_on_migrate"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Path:            defaultDBPath,
		BackupDir:       defaultBackupDir,
		BackupOnMigrate: true,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.Path == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}
