package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic identifies a broadcast stream.
type Topic int

const (
	// Status carries device state snapshots.
	Status Topic = iota
	// Config carries model configuration changes.
	Config
	// Result carries routine run reports.
	Result
)

func (t Topic) String() string {
	switch t {
	case Status:
		return "Status"
	case Config:
		return "Config"
	case Result:
		return "Result"
	}
	return "Unknown"
}

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is a payload tagged with its sender and topic
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// ErrDuplicateSubscriber is returned when a pid subscribes twice to one topic.
var ErrDuplicateSubscriber = errors.New("msg: pid already subscribed to topic")

const inboxSize = 16

// PubSub fans messages out to per-subscriber channels. Publishing never blocks:
// a subscriber with a full inbox misses the message.
type PubSub struct {
	mux  *sync.Mutex
	pid  uuid.UUID
	subs map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns a PubSub that stamps messages with pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		&sync.Mutex{},
		pid,
		make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID of the publishing process
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a channel on which the specified topic is broadcast
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if _, ok := p.subs[topic]; !ok {
		p.subs[topic] = make(map[uuid.UUID]chan Msg)
	}
	if _, ok := p.subs[topic][pid]; ok {
		return nil, ErrDuplicateSubscriber
	}
	ch := make(chan Msg, inboxSize)
	p.subs[topic][pid] = ch
	return ch, nil
}

// Unsubscribe pid from all topic broadcasts. Its channels are closed.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subs {
		if ch, ok := subs[pid]; ok {
			close(ch)
			delete(subs, pid)
		}
	}
}

// Publish broadcasts payload on topic
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.Forward(New(p.pid, topic, payload))
}

// Forward rebroadcasts a message keeping its original sender
func (p *PubSub) Forward(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subs[m.Topic()] {
		select {
		case ch <- m:
		default:
		}
	}
}
