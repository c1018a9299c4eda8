/*
Package types provides the shared type contracts of the VentureFlow
validation service.

types is the lowest-level package and depends on no internal package. It
defines the persisted entities (Session, AgentRun, Report), the per-stage
agent payload variants, the uniform AgentResult shape every remote agent
invocation collapses to, and the structured Error/ErrorCode system used by
the HTTP layer.
*/
package types
