// Package build is the build execution engine.
//
// Executor runs one build per goroutine: each pipeline step is spawned through a
// StepRunner, every output line is persisted through a logbatch.Batcher and a
// sample of them is published as live events. Steps run strictly in order and
// the first non-zero exit code fails the build. Service creates the queued
// build record and hands it to the Executor.
package build
