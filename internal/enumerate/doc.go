// Package enumerate turns a source (a directory tree or a CSV manifest) into
// the ordered, de-duplicated list of work items for a run.
//
// Keys are derived from file names without their extension, normalized to
// Unicode NFC so that names produced on different filesystems compare equal.
// Two sources that derive the same key are reported as an enumeration error
// naming both; nothing is silently dropped. Manifest headers are checked before
// any row is read so a missing column fails the run before work begins.
package enumerate
