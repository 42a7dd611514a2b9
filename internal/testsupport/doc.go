// Package testsupport holds helpers shared by package tests: a config
// builder wired to the local storage and catalog backends, file writers, and
// fakes for the transcoder and catalog dataset.
package testsupport
