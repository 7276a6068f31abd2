package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildrunner/internal/config"
	ferrors "git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
)

// NATSPublisher mirrors build events onto NATS subjects
// <prefix>.<build_id>.<event>, either as core messages or through JetStream.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNATSPublisher connects to cfg.URL. With cfg.JetStream the stream is
// created (or updated) to capture every subject under the prefix.
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig) (*NATSPublisher, error) {
	if !cfg.Enabled {
		return nil, ferrors.ConfigError("nats event publishing is disabled").Build()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("buildrunner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS connection lost", logfields.URL(cfg.URL), logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS connection restored", logfields.URL(c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", cfg.URL).
			Build()
	}

	p := &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix}
	if cfg.JetStream {
		if err := p.initStream(ctx, cfg.Stream); err != nil {
			conn.Close()
			return nil, err
		}
	}

	slog.Info("NATS event publisher initialized",
		logfields.URL(cfg.URL),
		logfields.Subject(cfg.SubjectPrefix+".>"),
		slog.Bool("jetstream", cfg.JetStream))
	return p, nil
}

func (p *NATSPublisher) initStream(ctx context.Context, stream string) error {
	js, err := jetstream.New(p.conn)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to create JetStream context").Build()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Build events published by buildrunner",
		Subjects:    []string{p.prefix + ".>"},
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
	}); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to create JetStream stream").
			WithContext("stream", stream).
			Build()
	}
	p.js = js
	return nil
}

// Publish sends evt. Core NATS publishes are fire-and-forget; JetStream waits
// for the stream acknowledgement within ctx.
func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := newNATSMsg(p.prefix, evt)
	if err != nil {
		return err
	}

	if p.js != nil {
		_, err = p.js.PublishMsg(ctx, msg)
	} else {
		err = p.conn.PublishMsg(msg)
	}
	if err != nil {
		return ferrors.PublishError("failed to publish build event to NATS").
			WithCause(err).
			WithContext("subject", msg.Subject).
			Build()
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Subject returns the NATS subject for evt.
func Subject(prefix string, evt Event) string {
	return prefix + "." + strconv.FormatInt(evt.BuildID, 10) + "." + string(evt.Type)
}

func newNATSMsg(prefix string, evt Event) (*nats.Msg, error) {
	body := evt.Data()
	body["event"] = string(evt.Type)
	body["timestamp"] = evt.Timestamp.Format(time.RFC3339Nano)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, ferrors.PublishError("failed to encode build event").WithCause(err).Build()
	}

	msg := nats.NewMsg(Subject(prefix, evt))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	return msg, nil
}
