// Package db embeds the schema applied on startup and by the seed command.
package db

import _ "embed"

// Schema contains the DDL statements for the rule engine tables.
//
//go:embed migrations/001_schema.sql
var Schema string
