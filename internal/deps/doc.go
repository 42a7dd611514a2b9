// Package deps checks that the external binaries a run shells out to are
// installed before any item work starts.
package deps
