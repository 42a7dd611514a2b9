// Package logs reads the vidingest log file for the `vidingest logs` command.
//
// Tail returns the last N matching lines with bounded memory and the offset
// to resume from; Follow polls from that offset until the context ends. A
// Filter narrows output to one run, which works for both the console and JSON
// log formats because both carry run_id verbatim.
package logs
