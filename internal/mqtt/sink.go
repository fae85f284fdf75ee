package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agrisol/cropdoctor/internal/diagnosis"
)

// Sink publishes each diagnosis result as JSON to <topic>/<crop>.
type Sink struct {
	client Client
	topic  string
}

// NewSink returns a sink publishing under topic through c
func NewSink(c Client, topic string) *Sink {
	return &Sink{client: c, topic: strings.TrimSuffix(topic, "/")}
}

func (*Sink) Name() string { return "mqtt" }

// Topic returns the topic a result for crop is published to
func (s *Sink) Topic(crop string) string {
	return s.topic + "/" + crop
}

// Consume publishes r
func (s *Sink) Consume(ctx context.Context, r *diagnosis.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal diagnosis result: %w", err)
	}
	return s.client.Publish(ctx, s.Topic(r.CropType), payload)
}

var _ diagnosis.Sink = (*Sink)(nil)
