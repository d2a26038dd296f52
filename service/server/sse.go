package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	natspkg "github.com/helium/wallet-app-sub004/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventStream relays authorization events from JetStream to SSE clients,
// so an approval UI learns about pending requests as they arrive.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for streaming.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("wallet-authz-stream"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("event stream initialized", "nats_url", natsURL)
	return &EventStream{nc: nc, js: js, logger: logger}, nil
}

// Close closes the NATS connection.
func (s *EventStream) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("event stream closed")
	}
	return nil
}

var streamOutcomes = map[string]bool{
	string(authz.OutcomePending):   true,
	string(authz.OutcomeApproved):  true,
	string(authz.OutcomeRejected):  true,
	string(authz.OutcomeFailed):    true,
	string(authz.OutcomeCompleted): true,
}

// streamSubject builds the subject filter from optional method and outcome
// query parameters.
func streamSubject(method, outcome string) (string, error) {
	m, o := "*", "*"
	if method != "" {
		parsed, err := authz.ParseMethod(method)
		if err != nil {
			return "", err
		}
		m = string(parsed)
	}
	if outcome != "" {
		if !streamOutcomes[outcome] {
			return "", fmt.Errorf("unknown outcome %q", outcome)
		}
		o = outcome
	}
	return fmt.Sprintf("authz.%s.%s", m, o), nil
}

// handleStreamEvents streams authorization events as SSE.
// GET /v1/stream/events?method=signTransaction&outcome=pending
func handleStreamEvents(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		subject, err := streamSubject(q.Get("method"), q.Get("outcome"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush(w)

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		cons, err := stream.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer", "subject", subject, "error", err)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"subject\":%q}\n\n", subject)
		flush(w)

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush(w)

			case msg := <-msgChan:
				var event natspkg.AuthorizationEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event", "error", err)
					msg.Ack()
					continue
				}
				data, err := json.Marshal(event)
				if err != nil {
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Outcome, data)
				flush(w)
				msg.Ack()

				logger.DebugContext(r.Context(), "sent authorization event",
					"request_id", event.RequestID,
					"outcome", event.Outcome,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return

			case <-doneChan:
				return
			}
		}
	})
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
