package notify

import "log/slog"

// Kind identifies a state-transition notification.
type Kind string

const (
	KindReady     Kind = "ready"
	KindUnhealthy Kind = "unhealthy"
	KindStopped   Kind = "stopped"
	KindCrashed   Kind = "crashed"
	KindError     Kind = "error"
)

// Event is one notification as delivered to a sink.
type Event struct {
	Kind    Kind
	Message string
}

// Sink receives lifecycle notifications for display to a user. One call is
// made per transition; implementations must be safe for concurrent use and
// should return quickly.
type Sink interface {
	Ready()
	Unhealthy()
	Stopped()
	Crashed(reason string)
	Error(message string)
}

// SlogSink logs every notification; the default when embedders do not
// provide their own sink.
type SlogSink struct {
	Log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{Log: log}
}

func (s *SlogSink) Ready()     { s.Log.Info("backend is ready") }
func (s *SlogSink) Unhealthy() { s.Log.Warn("backend is running but health checks are failing") }
func (s *SlogSink) Stopped()   { s.Log.Info("backend has stopped") }
func (s *SlogSink) Crashed(reason string) {
	s.Log.Error("backend crashed", "reason", reason)
}
func (s *SlogSink) Error(message string) {
	s.Log.Error("backend error", "error", message)
}

// ChanSink forwards notifications to a channel, for UIs and tests. Events
// are dropped when the channel is full rather than blocking the monitor.
type ChanSink struct {
	C chan Event
}

func NewChanSink(buf int) *ChanSink {
	return &ChanSink{C: make(chan Event, buf)}
}

func (s *ChanSink) send(e Event) {
	select {
	case s.C <- e:
	default:
	}
}

func (s *ChanSink) Ready()                { s.send(Event{Kind: KindReady}) }
func (s *ChanSink) Unhealthy()            { s.send(Event{Kind: KindUnhealthy}) }
func (s *ChanSink) Stopped()              { s.send(Event{Kind: KindStopped}) }
func (s *ChanSink) Crashed(reason string) { s.send(Event{Kind: KindCrashed, Message: reason}) }
func (s *ChanSink) Error(message string)  { s.send(Event{Kind: KindError, Message: message}) }

// Multi fans out to several sinks in order.
type Multi []Sink

func (m Multi) Ready() {
	for _, s := range m {
		s.Ready()
	}
}
func (m Multi) Unhealthy() {
	for _, s := range m {
		s.Unhealthy()
	}
}
func (m Multi) Stopped() {
	for _, s := range m {
		s.Stopped()
	}
}
func (m Multi) Crashed(reason string) {
	for _, s := range m {
		s.Crashed(reason)
	}
}
func (m Multi) Error(message string) {
	for _, s := range m {
		s.Error(message)
	}
}
