// Package migration applies versioned SQL files to a SQLite database.
//
// Migration files are named {version}_{description}.sql and are read from an
// fs.FS, usually an embedded directory. Applied versions are tracked in the
// schema_migrations table so each file runs once, inside its own
// transaction.
//
// Statements are separated by semicolons. Trigger bodies (CREATE TRIGGER ...
// BEGIN ... END;) are kept together as one statement.
package migration
