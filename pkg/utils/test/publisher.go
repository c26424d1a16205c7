package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/chronicle/pkg/eventstream"
)

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event

	// Err is returned by Publish when set.
	Err error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(_ context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	cp := *event
	p.events = append(p.events, &cp)
	return nil
}

// Events returns a snapshot of the recorded events.
func (p *RecordingPublisher) Events() []*eventstream.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.Event(nil), p.events...)
}

// Types returns the event types in publish order.
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func (p *RecordingPublisher) Close() error {
	return nil
}
