// Package geodb owns the lifecycle of database generations and
// answers lookups against the active one.
//
// A generation is born when the updater downloads a candidate file and
// the validator accepts it. It is then committed to the retention
// store under its build timestamp, promoted to active and swapped into
// the slot. Readers acquire a reference-counted handle per lookup, so
// a swap never invalidates a lookup in flight: the previous generation
// is reclaimed only when its last reader lets go.
//
// Everything except the slot is touched by the single updater task,
// so the slot is the only synchronization point of the package.
package geodb
