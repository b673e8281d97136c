// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"

	"github.com/paperscope/paperscope/internal/config"
)

// Bus bundles the publisher and subscriber backing the job router.
// The default is an in-process GoChannel pubsub; multi-process
// deployments switch to NATS JetStream, optionally with an embedded
// server for single-binary installs.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	embedded   *server.Server
}

// NewBus builds the transport selected by config.
func NewBus(cfg config.JobsConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if !cfg.NATS.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger)
		return &Bus{publisher: ch, subscriber: ch}, nil
	}
	return newNATSBus(cfg.NATS, logger)
}

// newNATSBus starts the optional embedded server and connects the
// Watermill JetStream publisher and subscriber.
func newNATSBus(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	bus := &Bus{}

	url := cfg.URL
	if cfg.EmbeddedServer {
		ns, err := startEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		bus.embedded = ns
		url = ns.ClientURL()
	}
	if url == "" {
		url = natsgo.DefaultURL
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		bus.shutdownEmbedded()
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}
	bus.publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverNew(),
				// One unacked message per durable consumer: the router's
				// per-topic mutex only covers one process, this covers the
				// queue group so two workers never run the same job type
				// concurrently.
				natsgo.MaxAckPending(1),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		bus.shutdownEmbedded()
		return nil, fmt.Errorf("failed to create NATS subscriber: %w", err)
	}
	bus.subscriber = sub

	return bus, nil
}

// startEmbeddedServer boots an in-process JetStream-enabled NATS server.
func startEmbeddedServer(cfg config.NATSConfig) (*server.Server, error) {
	opts := &server.Options{
		ServerName: "paperscope-jobs",
		Host:       "127.0.0.1",
		Port:       -1,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}
	return ns, nil
}

// Publisher exposes the publish side for schedule ticks and batch fanout.
func (b *Bus) Publisher() message.Publisher {
	return b.publisher
}

// Subscriber exposes the subscribe side for router handlers.
func (b *Bus) Subscriber() message.Subscriber {
	return b.subscriber
}

// Close tears down the transport, embedded server last.
func (b *Bus) Close(ctx context.Context) error {
	var firstErr error
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	// GoChannel is one object for both sides; avoid a double close.
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.shutdownEmbedded()
	if b.embedded != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.embedded.WaitForShutdown()
		}
	}
	return firstErr
}

func (b *Bus) shutdownEmbedded() {
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
}
