package main

import (
	"crypto/rand"
	"flag"
)

// newFlagSet builds a flag.FlagSet that reports parse errors back to
// the caller instead of printing usage and exiting, so every
// subcommand's bad-argument path goes through run's single error
// formatter.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(discardWriter{})
	return fs
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func readRandom(b []byte) (int, error) {
	return rand.Read(b)
}
