// Package harness runs a corpus end to end.
//
// Cases fan out to a bounded pool of workers. Each worker builds and runs
// one case through an Executor, repeating it when asked, and classifies
// every attempt. The results are collected into a slot per case, so the
// summary is in registry order regardless of completion order.
//
// Cancelling the run context kills every in-flight case and discards the
// partial results; Run then returns an error wrapping ErrRunCancelled.
package harness
