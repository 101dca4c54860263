package kafkax

import (
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

// MessageIDHeader carries the publisher-assigned id of a pipeline message.
const MessageIDHeader = "message_id"

// MessageID returns the message id header, falling back to topic/partition/offset
// for messages written by producers that do not set one.
func MessageID(msg kafka.Message) string {
	if id := HeaderValue(msg.Headers, MessageIDHeader); id != "" {
		return id
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
