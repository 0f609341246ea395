/*
Package bus holds the transport-facing contracts of the framework: message and
connection types, handler tables and the Transport/Session/Peer trio that
adapters implement. It has no behavior of its own.
*/
package bus
