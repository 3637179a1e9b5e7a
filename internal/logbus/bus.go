package logbus

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	TypeLog           = "log"
	TypeTaskState     = "task_state"
	TypeCampaignState = "campaign_state"
	TypeSafetyDenied  = "safety_denied"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Option func(*Bus)

// WithZap mirrors every Log call into l.
func WithZap(l *zap.Logger) Option {
	return func(b *Bus) {
		b.zl = l
	}
}

type Bus struct {
	mu     sync.RWMutex
	buf    []Message
	cap    int
	subs   map[chan Message]struct{}
	closed bool

	zl *zap.Logger
}

func New(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	b := &Bus{
		cap:  capacity,
		buf:  make([]Message, 0, capacity),
		subs: make(map[chan Message]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish(TypeLog, LogData{Level: level, Msg: message, Fields: fields})
	if b.zl != nil {
		b.logZap(level, message, fields)
	}
}

func (b *Bus) logZap(level, message string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	switch level {
	case "debug":
		b.zl.Debug(message, zf...)
	case "warn":
		b.zl.Warn(message, zf...)
	case "error":
		b.zl.Error(message, zf...)
	default:
		b.zl.Info(message, zf...)
	}
}
