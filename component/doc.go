/*
Package component is the user-facing entry point for bus traffic.

A Component resolves clients and servers through the framework's designated
worker, so concurrent QueryService/OfferService calls for one bus name always
yield the same endpoint and the registry is only mutated on one goroutine.
Connection callbacks run on the component's own worker. Calling QueryService
or OfferService from a job that already runs on the designated worker executes
inline instead of deadlocking.

Every job a component submits carries its liveness token. After Close the
token is dead: queued work is skipped and callbacks stop arriving.
*/
package component
