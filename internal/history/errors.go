package history

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("history_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("history_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("history_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("history_schema_migration_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrAppend       = errors.ErrorCode("history_append_failed")
	ErrQuery        = errors.ErrorCode("history_query_failed")
	ErrClosed       = errors.ErrorCode("history_closed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidDBPath:          "Invalid history database path",
		ErrSchemaInitFailed:       "Failed to initialize history schema",
		ErrSchemaValidationFailed: "Failed to validate history schema",
		ErrSchemaMigrationFailed:  "Failed to migrate history schema",
		ErrAppend:                 "Failed to append sample to history",
		ErrQuery:                  "Failed to query history",
		ErrClosed:                 "History store is closed",
	})
}
