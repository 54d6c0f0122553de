// Package driving provides interfaces for the operations this core exposes to
// its consumers (primary/inbound ports): the HTTP layer and the CLI indexer,
// both of which live outside this module.
package driving
