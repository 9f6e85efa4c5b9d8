/*
Package types defines the core data structures shared across pgbranch.

It holds the four persisted entities — Project, Branch, Snapshot, and the
top-level State document that wraps them — plus the small set of naming
helpers (ContainerName, DatasetName) that every other package uses to stay
consistent with the on-disk and container-runtime naming scheme described
in the state-store schema.

These types are intentionally dumb: no behavior, no validation, just
JSON-tagged fields matching the persisted schema field-for-field. Validation
lives in pkg/storage (invariant checks on load); orchestration lives in
pkg/controller.
*/
package types
