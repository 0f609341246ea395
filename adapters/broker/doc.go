/*
Package broker turns any publish/subscribe client into a bus Transport.

Each bus name maps to three topics: "<bus>.req" carries requests from clients
to the server, "<bus>.evt" carries events from the server to clients, and
"<bus>.ctl" carries presence. Brokers have no notion of a connected peer, so
presence is announced explicitly:

	client dial   -> hello    (server counts the session, answers welcome)
	server listen -> announce (clients go online and say hello again)
	client close  -> bye
	server close  -> gone

The message kind, code and session id travel in headers; the payload is the
message body unchanged. Concrete links live in the nats, rabbitmq and kafka
adapters and in package memory.
*/
package broker
