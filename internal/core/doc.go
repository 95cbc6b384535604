// Package core holds the data model shared by the pipeline, storage and sources:
// snapshots, source and subscriber identifiers, capability interfaces and
// delivery outcomes.
package core
