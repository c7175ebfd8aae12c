/*
Package rabbitmq forwards event-bus channels to RabbitMQ.
Every event is published on a topic exchange with its channel as the routing key. The package
includes an auto-reconnect publisher and supports optional header propagation via a
bus.HeaderPropagator.
*/
package rabbitmq
