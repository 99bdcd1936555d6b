// Package natsctl serves control requests over NATS request/reply.
//
// A request is the JSON form of control.Request; the reply is the JSON form
// of control.Response. Requests without a reply subject are handled and
// not answered.
package natsctl

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/natsclient"
)

// DefaultSubject is the subject served when none is configured.
const DefaultSubject = "edgestreams.control"

// Responder is the part of natsclient.Client the server needs.
type Responder interface {
	Reply(ctx context.Context, subject string, handler func(context.Context, []byte) []byte) (*nats.Subscription, error)
}

var _ Responder = (*natsclient.Client)(nil)

// Option configures a Server.
type Option func(*Server)

// WithSubject sets the request subject.
func WithSubject(subject string) Option {
	return func(s *Server) {
		if subject != "" {
			s.subject = subject
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server answers control requests against a registry.
type Server struct {
	client   Responder
	registry *control.Registry
	subject  string
	logger   *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewServer creates a server. Start must be called to subscribe.
func NewServer(client Responder, registry *control.Registry, opts ...Option) *Server {
	s := &Server{
		client:   client,
		registry: registry,
		subject:  DefaultSubject,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "natsctl", "subject", s.subject)
	return s
}

// Subject returns the served subject.
func (s *Server) Subject() string {
	return s.subject
}

// Start subscribes to the request subject.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "subscribe")
	}
	sub, err := s.client.Reply(ctx, s.subject, s.handle)
	if err != nil {
		return errors.Wrap(err, "Server", "Start", "subscribe")
	}
	s.sub = sub
	s.logger.Info("Serving control requests")
	return nil
}

func (s *Server) handle(_ context.Context, data []byte) []byte {
	handled := s.registry.HandleJSON(data)
	s.logger.Debug("Control request", "handled", handled)

	resp, err := json.Marshal(control.Response{Handled: handled})
	if err != nil {
		s.logger.Error("Failed to encode control response", "error", err)
		return nil
	}
	return resp
}

// Close drains the subscription. In-flight requests are answered first.
func (s *Server) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Drain()
	if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) && !stderrors.Is(err, nats.ErrBadSubscription) {
		return errors.Wrap(err, "Server", "Close", "drain subscription")
	}
	return nil
}
