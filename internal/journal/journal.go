package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/perchlabs/voicerelay/internal/bus"
	"github.com/perchlabs/voicerelay/internal/eventstore"
	"github.com/perchlabs/voicerelay/internal/protocol"
)

// Service subscribes to the exchange subjects and persists every event
// to the store. Persistence is best effort and never blocks the
// exchange that produced the event.
type Service struct {
	bus    *bus.Client
	store  *eventstore.Store
	log    *slog.Logger
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(parent context.Context, busClient *bus.Client, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		store:  store,
		log:    log.With(slog.String("component", "journal")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if s.bus == nil || s.store == nil {
		return nil
	}
	for _, subject := range protocol.Subjects() {
		sub, err := s.bus.Conn().Subscribe(subject, s.handle)
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return s.bus == nil || s.store == nil || len(s.subs) == len(protocol.Subjects())
}

func (s *Service) handle(msg *nats.Msg) {
	var envelope struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(msg.Data, &envelope); err != nil || envelope.SessionID == "" {
		s.log.Warn("discarding malformed exchange event", slog.String("subject", msg.Subject))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.store.AppendExchange(ctx, envelope.SessionID); err != nil {
		s.log.Warn("failed to record exchange",
			slog.String("session_id", envelope.SessionID), slogError(err))
		return
	}
	if err := s.store.AppendEvent(ctx, eventstore.Event{
		SessionID: envelope.SessionID,
		Type:      msg.Subject,
		Payload:   append([]byte(nil), msg.Data...),
	}); err != nil {
		s.log.Warn("failed to record exchange event",
			slog.String("session_id", envelope.SessionID), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
