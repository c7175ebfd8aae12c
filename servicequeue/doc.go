/*
Package servicequeue wraps one service handler behind a single-consumer asynchronous queue.

Producers submit calls with Call, Dispatch or Ask; one consumer goroutine drains them in batches,
invokes the handler, and emits responses for calls that carry a return address. Handler errors
become failed responses and never stop the consumer. The empty and limit hooks tell a handler
when to flush its own outbound buffers.
*/
package servicequeue
