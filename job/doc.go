// Package job defines the unit of work executed by a worker: a named body, a
// run policy, an optional owner liveness token and a write-once completion.
package job
