package bus

// PublishOptions controls how a bridge publishes an event to its broker.
// TopicOverride replaces the channel-derived subject/topic/routing key.
type PublishOptions struct {
	TopicOverride string
	Key           string
	Headers       map[string]string
}
