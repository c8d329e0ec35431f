// Package broadcast fans control-plane events out to every websocket
// subscriber of a meeting's channel. A single event loop serializes all
// publishes, so events for one meeting are delivered in the order they
// were issued; delivery to any individual subscriber is best-effort.
package broadcast

import (
	"context"
	"log"

	"github.com/tbellam/go-meeting/internal/stats"
)

type publishReq struct {
	meetingId string
	msg       *ServerMessage
}

type EventServer struct {
	log            *log.Logger
	stats          stats.StatsProvider
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	publishChan    chan publishReq
	// meetings maps a meeting external id to its current subscribers.
	// Only the Run loop touches it.
	meetings map[string]map[*Client]struct{}
	stop     chan struct{}
	done     chan struct{}
}

func NewEventServer(logger *log.Logger, sp stats.StatsProvider) *EventServer {
	sp.RegisterMetric(stats.MetricActiveSubscribers)
	sp.RegisterMetric(stats.MetricDroppedEvents)

	return &EventServer{
		log:            logger,
		stats:          sp,
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		publishChan:    make(chan publishReq, 512),
		meetings:       make(map[string]map[*Client]struct{}),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (es *EventServer) Run() {
	for {
		select {
		case client := <-es.RegisterChan:
			es.log.Printf("subscribing %q to meeting %q", client.user.Username, client.meetingId)
			es.addClient(client)
		case client := <-es.deRegisterChan:
			es.log.Printf("unsubscribing %q from meeting %q", client.user.Username, client.meetingId)
			es.removeClient(client)
		case req := <-es.publishChan:
			es.fanOut(req)
		case <-es.stop:
			for _, subscribers := range es.meetings {
				for client := range subscribers {
					client.stopClient()
				}
			}
			close(es.done)
			return
		}
	}
}

func (es *EventServer) addClient(c *Client) {
	if es.meetings[c.meetingId] == nil {
		es.meetings[c.meetingId] = make(map[*Client]struct{})
	}
	es.meetings[c.meetingId][c] = struct{}{}
	es.stats.Incr(stats.MetricActiveSubscribers)
}

func (es *EventServer) removeClient(c *Client) {
	subscribers, ok := es.meetings[c.meetingId]
	if !ok {
		return
	}
	if _, ok := subscribers[c]; !ok {
		return
	}

	delete(subscribers, c)
	if len(subscribers) == 0 {
		delete(es.meetings, c.meetingId)
	}
	es.stats.Decr(stats.MetricActiveSubscribers)
}

func (es *EventServer) fanOut(req publishReq) {
	for client := range es.meetings[req.meetingId] {
		client.queueMessage(req.msg)
	}
}

// Publish hands an event to the fan-out loop. It never blocks the caller:
// when the publish buffer is full the event is dropped and counted, which
// sacrifices that delivery but preserves ordering of everything delivered.
func (es *EventServer) Publish(meetingId string, event *Event) {
	event.MeetingId = meetingId
	msg := &ServerMessage{
		Timestamp: Now(),
		Event:     event,
	}

	select {
	case es.publishChan <- publishReq{meetingId: meetingId, msg: msg}:
	default:
		es.log.Printf("publish buffer full, dropping %q event for meeting %q", event.Type, meetingId)
		es.stats.Incr(stats.MetricDroppedEvents)
	}
}

// Shutdown stops the event loop and closes every subscriber.
func (es *EventServer) Shutdown(ctx context.Context) error {
	close(es.stop)

	select {
	case <-es.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
