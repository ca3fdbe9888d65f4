// Package nats publishes gateway events for services outside this process:
// presence changes and call invitations nobody was online to receive.
package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const headerEvent = "Chat-Event"

type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials url and keeps reconnecting forever.
func Connect(url, name, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("module", "adapters.nats").Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("module", "adapters.nats").Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewPublisher(nc, prefix), nil
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: strings.Trim(prefix, ".")}
}

func (p *Publisher) Subject(subject string) string {
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

// Publish sends the event in its wire envelope. Core NATS has no ack, so ctx
// is only checked before sending.
func (p *Publisher) Publish(ctx context.Context, subject string, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := core.Encode(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(subject))
	msg.Data = frame
	msg.Header.Set(headerEvent, string(ev.EventName()))
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
