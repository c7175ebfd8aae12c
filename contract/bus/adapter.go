package bus

// Bridge forwards event-bus channels to an external broker. It is joined to a bus like any
// other Subscriber and released with Close.
//
// Implementations live under adapters/ (NATS, RabbitMQ, Kafka); the core never imports them.
type Bridge interface {
	Subscriber
	Close() error
}
