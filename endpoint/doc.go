/*
Package endpoint implements the two sides of a named service: a Client that
connects to a bus and a Server that binds it.

Each endpoint aggregates the handler tables and connection callbacks of every
component that resolved it. Tables are merged with duplicate rejection;
callbacks are marshalled onto the worker each component asked for. Inbound
traffic is dispatched on the worker the endpoint was created with.
*/
package endpoint
