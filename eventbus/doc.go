/*
Package eventbus is a channel-keyed publish/subscribe layer.

Publishers send an argument tuple to a channel name; every consumer subscribed to that channel
receives it, in subscription order. Service queues are consumers too, which closes the loop from
events back into service calls. Channel names come from a resolver outside the bus.
*/
package eventbus
