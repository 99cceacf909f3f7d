// Package events provides the fire-and-forget event sink the Hub reports
// dead letters and protocol anomalies to, in the style of the teacher
// runtime's structured logging rather than a hand-rolled bus.
package events

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haldane-systems/aetherhub/internal/actor"
)

// DeadLetter is emitted whenever a message could not be delivered: the
// destination peer has abandoned its queue, a queued item aged out, the
// peer went silentlyhoping and its queue was discarded, or an inbound
// message named a path absent from the local registry.
type DeadLetter struct {
	Ref     *actor.Ref
	Message interface{}
	Reason  string
}

// ProtocolViolation is logged (never fatal to the Hub) when an inbound
// frame from an unknown peer is not a PING.
type ProtocolViolation struct {
	SenderAddr actor.Addr
	Payload    []byte
}

// DecodeFailure is logged when inbound bytes could not be decoded.
type DecodeFailure struct {
	SenderAddr actor.Addr
	Err        error
}

// HeartbeatTickFailure is logged when a heartbeat or queue-clean tick
// panics; the ticker keeps running on the next period.
type HeartbeatTickFailure struct {
	Tick string
	Err  error
}

// Sink is the narrow logging surface the Hub and actor core depend on. It
// is satisfied by *ZerologSink in production and may be stubbed out in
// tests.
type Sink interface {
	LogDeadLetter(DeadLetter)
	LogProtocolViolation(ProtocolViolation)
	LogDecodeFailure(DecodeFailure)
	LogHeartbeatTickFailure(HeartbeatTickFailure)
	Warnf(format string, args ...interface{})
}

// ZerologSink is the default Sink, backing every event with a structured
// zerolog record instead of ad-hoc fmt.Println calls.
type ZerologSink struct {
	log zerolog.Logger
}

// NewZerologSink builds a console-friendly sink writing to os.Stderr. Use
// NewZerologSinkWithWriter to redirect output, e.g. to a file in
// production deployments.
func NewZerologSink(node string) *ZerologSink {
	return NewZerologSinkWithWriter(node, os.Stderr)
}

// NewZerologSinkWithWriter builds a sink writing console-formatted records
// to w, e.g. an open file in a production deployment that doesn't want
// its event log going to the process's stderr.
func NewZerologSinkWithWriter(node string, w io.Writer) *ZerologSink {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	l := zerolog.New(cw).With().Timestamp().Str("node", string(node)).Logger()
	return &ZerologSink{log: l}
}

func (s *ZerologSink) LogDeadLetter(d DeadLetter) {
	ev := s.log.Warn().Str("event", "dead_letter")
	if d.Ref != nil {
		ev = ev.Str("path", string(d.Ref.Path)).Str("node", string(d.Ref.Node))
	}
	ev.Str("reason", d.Reason).Interface("message", d.Message).Msg("message dropped")
}

func (s *ZerologSink) LogProtocolViolation(p ProtocolViolation) {
	s.log.Error().Str("event", "protocol_violation").
		Str("sender", string(p.SenderAddr)).
		Int("payload_len", len(p.Payload)).
		Msg("inbound peer violated the handshake protocol")
}

func (s *ZerologSink) LogDecodeFailure(d DecodeFailure) {
	s.log.Error().Str("event", "decode_failure").
		Str("sender", string(d.SenderAddr)).
		Err(d.Err).
		Msg("failed to decode inbound frame")
}

func (s *ZerologSink) LogHeartbeatTickFailure(h HeartbeatTickFailure) {
	s.log.Error().Str("event", "heartbeat_tick_failure").
		Str("tick", h.Tick).
		Err(h.Err).
		Msg("tick handler failed; continuing on next period")
}

func (s *ZerologSink) Warnf(format string, args ...interface{}) {
	s.log.Warn().Msg(fmt.Sprintf(format, args...))
}

// NopSink discards every event; useful in unit tests that assert on Hub
// state directly rather than on emitted events.
type NopSink struct{}

func (NopSink) LogDeadLetter(DeadLetter)                           {}
func (NopSink) LogProtocolViolation(ProtocolViolation)             {}
func (NopSink) LogDecodeFailure(DecodeFailure)                     {}
func (NopSink) LogHeartbeatTickFailure(HeartbeatTickFailure)       {}
func (NopSink) Warnf(format string, args ...interface{})           {}

// RecordingSink accumulates every DeadLetter it sees, for assertions in
// scenario tests. It is safe for concurrent use since the Hub's ticks and
// transport callbacks may run on different goroutines.
type RecordingSink struct {
	NopSink

	mu          sync.Mutex
	DeadLetters []DeadLetter
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (s *RecordingSink) LogDeadLetter(d DeadLetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeadLetters = append(s.DeadLetters, d)
}

// Snapshot returns a copy of the dead letters recorded so far, safe to
// range over while the Hub may still be emitting more.
func (s *RecordingSink) Snapshot() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.DeadLetters))
	copy(out, s.DeadLetters)
	return out
}
