// Package database provides SQLite connectivity for Open Peer Power Core.
//
// The hub keeps its durable data (user accounts, refresh tokens, entity
// access grants) in a single SQLite file opened with WAL mode and foreign
// keys enabled. Schema changes are applied from an fs.FS of paired
// *.up.sql / *.down.sql files, normally the one embedded by the
// top-level migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
