/*
Package appfw is the process-level framework object: it names the process,
owns the designated worker and the service registry, and carries the transport
used to connect and bind endpoints.

There is no global instance. Build one with New (or through Module under fx)
and pass it to the components that need it.
*/
package appfw
