// Package testutil provides deterministic id generators and a manual wall
// clock for engine, harness and CLI tests.
package testutil
