/*
Package pipeline implements the validation pipeline orchestrator: a fixed
DAG of remote agent stages driven to a terminal session status inside a
hard wall-clock budget.

The stages, in dependency order:

	extract (critical)
	research ∥ competitors (graceful, joined)
	score (graceful)
	mvp (graceful, skipped when score failed)
	compose (graceful, best effort)

A critical stage failure aborts the run; graceful failures accumulate into
the session's failed steps and downstream stages receive explicit nulls.
The Client normalizes every transport failure mode into an AgentResult, the
Recorder appends one audit row per attempt, CheckDeadline enforces the
aggregate budget between stages, and the Registry lets process teardown
mark orphaned sessions failed so pollers are never stranded.
*/
package pipeline
