// Package migration applies versioned CQL scripts to a Cassandra cluster and
// records each applied script in a history table.
//
// Scripts live in a single directory and follow the naming convention
// v{version}[_{description}].cql (e.g. "v001.cql", "v002_add_users.cql").
// Versions are compared numerically and define the order of application.
//
// A run proceeds strictly in sequence:
//
//   - the history keyspace and table are created when missing
//   - recorded history is loaded and compared against the scripts on disk;
//     a recorded script that is missing or whose checksum changed stops the run
//   - every script without a history record is applied in version order,
//     one statement at a time, and recorded only after all of its statements
//     succeed
//
// A failing script stops the run. The returned *MigrateError reports the
// failing script and the scripts applied before it, and a later run resumes at
// the failing script.
//
// Example usage:
//
//	scripts, err := migration.Discover("./cql")
//	if err != nil {
//		return err
//	}
//	applied, err := migration.Migrate(ctx, session, scripts, cfg)
package migration
