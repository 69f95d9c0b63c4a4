package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Service orchestrates the notification pipeline: it consumes raw events from
// the change source, decodes them, routes them and fans them out to topics.
//
// Processing is a single synchronous chain. Each notification is fully
// decoded, routed and broadcast before the next one is considered, so topics
// observe broadcasts in the same relative order the source emitted them. A
// worker pool would break that guarantee, which is why the worker count is
// not configurable.
type Service struct {
	consumer NotificationConsumer
	router   Router
	sink     Broadcaster
	logger   zerolog.Logger
	wg       sync.WaitGroup

	received      atomic.Uint64
	decoded       atomic.Uint64
	droppedDecode atomic.Uint64
	broadcasts    atomic.Uint64
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Received      uint64 `json:"received"`
	Decoded       uint64 `json:"decoded"`
	DroppedDecode uint64 `json:"dropped_decode"`
	Broadcasts    uint64 `json:"broadcasts"`
}

// NewService creates a new bridge Service.
func NewService(
	consumer NotificationConsumer,
	router Router,
	sink Broadcaster,
	logger zerolog.Logger,
) (*Service, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	return &Service{
		consumer: consumer,
		router:   router,
		sink:     sink,
		logger:   logger.With().Str("service", "BridgeService").Logger(),
	}, nil
}

// Start begins the service operation. It starts the consumer and then the
// single pipeline goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting bridge service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification consumer: %w", err)
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info().Msg("Bridge service started.")
	return nil
}

// Stop gracefully shuts down the service: the consumer first, so no new
// notifications arrive, then the pipeline drains whatever is in flight.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping bridge service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	pipelineDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(pipelineDone)
	}()

	select {
	case <-pipelineDone:
		s.logger.Info().Msg("Bridge pipeline drained and stopped.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for bridge pipeline to finish.")
		return ctx.Err()
	}
	return nil
}

// Stats returns a snapshot of the pipeline counters.
func (s *Service) Stats() Stats {
	return Stats{
		Received:      s.received.Load(),
		Decoded:       s.decoded.Load(),
		DroppedDecode: s.droppedDecode.Load(),
		Broadcasts:    s.broadcasts.Load(),
	}
}

// run is the pipeline loop. Exactly one instance runs per service.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Bridge pipeline shutting down due to context cancellation.")
			return
		case n, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Info().Msg("Consumer channel closed, bridge pipeline exiting.")
				return
			}
			s.process(ctx, n)
		}
	}
}

// process handles one notification end to end: decode, route, fanout.
func (s *Service) process(ctx context.Context, n Notification) {
	s.received.Add(1)

	rec, err := DecodeChange(n)
	if err != nil {
		// A single bad payload must never stop processing for subsequent
		// events: drop it, count it, move on.
		s.droppedDecode.Add(1)
		s.logger.Error().Err(err).Str("channel", n.Channel).Msg("Dropping undecodable notification.")
		return
	}
	s.decoded.Add(1)

	if rec.EntityKind == "" {
		rec.EntityKind = s.router.EntityKind(rec.SourceChannel)
	}

	topics := s.router.Route(rec)
	payload, err := json.Marshal(NewEnvelope(rec))
	if err != nil {
		s.droppedDecode.Add(1)
		s.logger.Error().Err(err).Str("channel", n.Channel).Msg("Dropping unencodable change record.")
		return
	}

	for _, topic := range topics {
		if err := s.sink.Broadcast(ctx, topic, EventChange, payload); err != nil {
			// Broadcast errors are not retried; the input cannot be made
			// deliverable by resending it.
			s.logger.Warn().Err(err).Str("topic", topic).Msg("Broadcast failed.")
			continue
		}
		s.broadcasts.Add(1)
	}

	s.logger.Debug().
		Str("channel", n.Channel).
		Str("operation", string(rec.Operation)).
		Strs("topics", topics).
		Msg("Notification relayed.")
}
