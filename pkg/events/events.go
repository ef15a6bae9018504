// Package events publishes store events to NATS so other processes can
// follow a file as it grows.
//
// Subject mapping: <prefix>.<file id>.<type>, where type is one of
// appended, grown, remapped, writer_error.
package events

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/randomfile/pkg/core"
	"github.com/fluxorio/randomfile/pkg/randomfile"
)

const (
	TypeAppended    = "appended"
	TypeGrown       = "grown"
	TypeRemapped    = "remapped"
	TypeWriterError = "writer_error"
)

// Config configures the NATS connection.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string `yaml:"url" json:"url"`

	// Prefix is prepended to all subjects. Default: "randomfile".
	Prefix string `yaml:"prefix" json:"prefix"`

	// Name is an optional NATS connection name.
	Name string `yaml:"name" json:"name"`
}

// Event is the JSON payload of every message.
type Event struct {
	Type   string    `json:"type"`
	FileID string    `json:"file_id"`
	Time   time.Time `json:"time"`

	Bytes  int   `json:"bytes,omitempty"`
	Cursor int64 `json:"cursor,omitempty"`
	Direct bool  `json:"direct,omitempty"`

	From int64 `json:"from,omitempty"`
	To   int64 `json:"to,omitempty"`

	Generation uint64 `json:"generation,omitempty"`
	Length     int64  `json:"length,omitempty"`

	Error string `json:"error,omitempty"`
}

// Publisher turns store events into NATS messages.
type Publisher struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	logger core.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// Connect dials cfg.URL and returns a publisher that owns the connection.
func Connect(cfg Config, logger core.Logger) (*Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	p := NewPublisher(nc, cfg.Prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher publishes on an existing connection, which the caller keeps
// owning.
func NewPublisher(nc *nats.Conn, prefix string, logger core.Logger) *Publisher {
	if prefix == "" {
		prefix = "randomfile"
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject events of type typ for fileID go to.
func (p *Publisher) Subject(fileID, typ string) string {
	return p.prefix + "." + fileID + "." + typ
}

// Observer returns a randomfile.Observer publishing through p.
func (p *Publisher) Observer() randomfile.Observer {
	return &observer{p: p}
}

// Published and Failed count messages handed to the connection and
// messages that could not be encoded or published.
func (p *Publisher) Published() int64 { return p.published.Load() }
func (p *Publisher) Failed() int64    { return p.failed.Load() }

// Flush waits for the server to acknowledge everything published so far.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains the connection if p owns it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

func (p *Publisher) publish(ev Event) {
	ev.Time = time.Now().UTC()
	data, err := core.JSONEncode(ev)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warnf("encode %s event: %v", ev.Type, err)
		return
	}
	msg := &nats.Msg{
		Subject: p.Subject(ev.FileID, ev.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("X-File-ID", ev.FileID)
	if err := p.nc.PublishMsg(msg); err != nil {
		p.failed.Add(1)
		p.logger.Warnf("publish %s: %v", msg.Subject, err)
		return
	}
	p.published.Add(1)
}

// observer publishes persisted and direct appends, grows, remaps and
// writer failures. Enqueue, reject and get events stay local.
type observer struct {
	randomfile.NopObserver
	p *Publisher
}

func (o *observer) OnAppendPersisted(i randomfile.PersistInfo) {
	o.p.publish(Event{Type: TypeAppended, FileID: i.FileID, Bytes: i.Bytes, Cursor: i.Cursor})
}

func (o *observer) OnDirectAppend(i randomfile.AppendInfo) {
	o.p.publish(Event{Type: TypeAppended, FileID: i.FileID, Bytes: i.Bytes, Direct: true})
}

func (o *observer) OnGrow(i randomfile.GrowInfo) {
	o.p.publish(Event{Type: TypeGrown, FileID: i.FileID, From: i.From, To: i.To})
}

func (o *observer) OnRemap(i randomfile.RemapInfo) {
	o.p.publish(Event{Type: TypeRemapped, FileID: i.FileID, Generation: i.Generation, Length: i.Length})
}

func (o *observer) OnWriterError(i randomfile.WriterErrorInfo) {
	o.p.publish(Event{Type: TypeWriterError, FileID: i.FileID, Error: i.Err.Error()})
}
