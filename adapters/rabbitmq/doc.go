/*
Package rabbitmq carries bus traffic over RabbitMQ through the broker transport.
Every topic becomes a routing key on the durable topic exchange "appfw.bus";
each subscription consumes from its own exclusive, auto-delete queue. The
connection-backed channel reconnects with backoff and rebinds subscriptions,
and supports optional header propagation via a bus.HeaderPropagator.
*/
package rabbitmq
