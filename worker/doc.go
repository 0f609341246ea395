/*
Package worker runs jobs one at a time on a single goroutine.

Any goroutine may Post a job (fire and forget) or Send it and block until it
completes. Bodies never overlap on one worker, which is what lets the service
registry treat "runs on the designated worker" as its only synchronization.

The context handed to a job body identifies the worker it runs on (see
Current). A Send issued with that context executes inline instead of
enqueueing, so a job may resolve further work on its own worker without
deadlocking. That context stops identifying the worker once the body returns.
*/
package worker
