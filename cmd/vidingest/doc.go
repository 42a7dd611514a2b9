// Package main hosts the vidingest CLI entrypoint and command graph.
//
// The Cobra-based command tree resolves configuration once, applies flag
// overrides, performs preflight checks against the transcoder, object store
// and catalog, and then hands a list of work items to the pipeline or fetch
// packages. Reports are rendered as tables or JSON and recorded in the run
// history.
//
// Keep this package lean: behavior belongs in the internal packages and is
// only surfaced here through commands and flags.
package main
