// Package migration manages the postgres schema for validation sessions,
// agent run audit rows, and reports. Migration files are embedded in the
// binary and applied through golang-migrate, driven by the ventureflow
// migrate subcommands.
package migration
