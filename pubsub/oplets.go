package pubsub

import (
	"fmt"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
)

func lookup(ctx oplet.Context, caller string) (*TopicHandler, error) {
	h, ok := oplet.ServiceOf[*TopicHandler](ctx)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: topic handler service", errors.ErrNotFound),
			caller, "Initialize", "lookup topic handler")
	}
	return h, nil
}

// Publisher is a sink that publishes every tuple on a topic.
type Publisher[T any] struct {
	oplet.Base
	topic   string
	handler *TopicHandler
}

// NewPublisher creates a sink publishing to topic.
func NewPublisher[T any](topic string) *Publisher[T] {
	return &Publisher[T]{topic: topic}
}

func (p *Publisher[T]) Kind() string { return "Publisher" }

func (p *Publisher[T]) Shape() oplet.Shape { return oplet.ShapeSink }

// Initialize looks up the topic handler service.
func (p *Publisher[T]) Initialize(ctx oplet.Context) error {
	if err := p.Base.Initialize(ctx); err != nil {
		return err
	}
	h, err := lookup(ctx, "Publisher")
	if err != nil {
		return err
	}
	p.handler = h
	return nil
}

func (p *Publisher[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		if _, ok := oplet.As[T](&p.Base, tuple); ok {
			p.handler.Publish(p.topic, tuple)
		}
	}}
}

// Subscriber is a source submitting every tuple published on a topic.
type Subscriber[T any] struct {
	oplet.Base
	topic       string
	handler     *TopicHandler
	unsubscribe func()
}

// NewSubscriber creates a source fed by topic.
func NewSubscriber[T any](topic string) *Subscriber[T] {
	return &Subscriber[T]{topic: topic}
}

func (s *Subscriber[T]) Kind() string { return "Subscriber" }

func (s *Subscriber[T]) Shape() oplet.Shape { return oplet.ShapeSource }

// Initialize looks up the topic handler service.
func (s *Subscriber[T]) Initialize(ctx oplet.Context) error {
	if err := s.Base.Initialize(ctx); err != nil {
		return err
	}
	h, err := lookup(ctx, "Subscriber")
	if err != nil {
		return err
	}
	s.handler = h
	return nil
}

func (s *Subscriber[T]) Inputs() []graph.Consumer { return nil }

// Start subscribes to the topic.
func (s *Subscriber[T]) Start() error {
	s.unsubscribe = s.handler.Subscribe(s.topic, func(tuple any) {
		if v, ok := oplet.As[T](&s.Base, tuple); ok {
			s.Submit(0, v)
		}
	})
	return nil
}

// Close unsubscribes.
func (s *Subscriber[T]) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}
