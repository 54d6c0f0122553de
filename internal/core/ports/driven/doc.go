// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): model serving, chunk storage, and text
// extraction. The core services depend on these interfaces only.
package driven
