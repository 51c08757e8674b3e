// Package lib holds the core interfaces and the per-run state shared by the
// executors: the script runtime abstraction, the execution context handed
// to every iteration, the run-wide abort signal and the shared objects store.
package lib
