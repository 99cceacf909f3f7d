package remoting

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/haldane-systems/aetherhub/internal/actor"
	"github.com/haldane-systems/aetherhub/internal/events"
	"github.com/haldane-systems/aetherhub/internal/xerrors"
)

// ProtocolVersion is the aetherhub wire-protocol version exchanged on a
// dedicated handshake stream before any Hub traffic -- the literal
// "ping"/"pong"/payload frames of 4.6.4 -- flows on the connection's
// datagram channel. Keeping the handshake off the datagram channel means
// the PING/PONG wire format itself never has to carry a version string.
const ProtocolVersion = "1.0.0"

var protocolConstraint = semver.MustParse(ProtocolVersion)

// QUICTransport is both an OutgoingTransport and an IncomingTransport,
// built on quic-go's unreliable datagram extension: the closest
// off-the-shelf analogue of the datagram-style message transport the Hub
// assumes.
type QUICTransport struct {
	node    actor.Addr
	sink    events.Sink
	tlsConf *tls.Config

	sessionID string

	mu       sync.Mutex
	listener *quic.Listener
	conns    map[actor.Addr]*quic.Conn
	handler  func(src actor.Addr, payload []byte)
}

// NewQUICTransport constructs a transport for node. tlsConf must enable
// TLS 1.3 and NextProtos set to an aetherhub-specific ALPN identifier;
// constructing it is left to the caller (cmd/aetherhubd), mirroring how
// the teacher's netstack/http3.go leaves certificate provisioning to its
// caller.
func NewQUICTransport(node actor.Addr, tlsConf *tls.Config, sink events.Sink) *QUICTransport {
	return &QUICTransport{
		node:      node,
		sink:      sink,
		tlsConf:   tlsConf,
		sessionID: uuid.NewString(),
		conns:     make(map[actor.Addr]*quic.Conn),
	}
}

func (t *QUICTransport) SetHandler(handler func(src actor.Addr, payload []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Bind opens a UDP socket at addr, tunes SO_REUSEADDR on it before quic-go
// takes ownership of the file descriptor, and starts accepting inbound
// QUIC connections.
func (t *QUICTransport) Bind(addr actor.Addr) error {
	udpAddr, err := net.ResolveUDPAddr("udp", string(addr))
	if err != nil {
		return fmt.Errorf("remoting: resolve bind address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("remoting: listen udp %s: %w", addr, err)
	}
	if err := tuneReuseAddr(conn); err != nil {
		t.sink.Warnf("remoting: SO_REUSEADDR tuning failed for %s: %v", addr, err)
	}

	ln, err := quic.Listen(conn, t.tlsConf, quicConfig())
	if err != nil {
		return fmt.Errorf("remoting: quic listen on %s: %w", addr, err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go t.acceptLoop(ln)
	return nil
}

func (t *QUICTransport) acceptLoop(ln *quic.Listener) {
	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		go t.handleConn(conn, "")
	}
}

// AddEndpoint dials addr if not already connected and performs the
// protocol-version handshake over a dedicated stream.
func (t *QUICTransport) AddEndpoint(addr actor.Addr) error {
	t.mu.Lock()
	if _, ok := t.conns[addr]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := quic.DialAddr(context.Background(), string(addr), t.tlsConf, quicConfig())
	if err != nil {
		return fmt.Errorf("remoting: dial %s: %w", addr, err)
	}
	if err := t.dialHandshake(conn); err != nil {
		_ = conn.CloseWithError(0, "handshake failed")
		return err
	}

	t.mu.Lock()
	t.conns[addr] = conn
	t.mu.Unlock()
	go t.handleConn(conn, addr)
	return nil
}

func (t *QUICTransport) dialHandshake(conn *quic.Conn) error {
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("remoting: open handshake stream: %w", err)
	}
	defer stream.Close()

	if _, err := fmt.Fprintf(stream, "%s\n%s\n", ProtocolVersion, t.sessionID); err != nil {
		return fmt.Errorf("remoting: write handshake: %w", err)
	}
	buf := make([]byte, 256)
	n, err := stream.Read(buf)
	if err != nil {
		return fmt.Errorf("remoting: read handshake reply: %w", err)
	}
	return checkPeerVersion(firstLine(buf[:n]))
}

func (t *QUICTransport) handleConn(conn *quic.Conn, addr actor.Addr) {
	if addr == "" {
		resolved, err := t.acceptHandshake(conn)
		if err != nil {
			t.sink.Warnf("remoting: inbound handshake from %s failed: %v", conn.RemoteAddr(), err)
			_ = conn.CloseWithError(0, "handshake failed")
			return
		}
		addr = resolved
		t.mu.Lock()
		t.conns[addr] = conn
		t.mu.Unlock()
	}

	for {
		data, err := conn.ReceiveDatagram(context.Background())
		if err != nil {
			t.mu.Lock()
			delete(t.conns, addr)
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(addr, data)
		}
	}
}

func (t *QUICTransport) acceptHandshake(conn *quic.Conn) (actor.Addr, error) {
	stream, err := conn.AcceptStream(context.Background())
	if err != nil {
		return "", fmt.Errorf("remoting: accept handshake stream: %w", err)
	}
	defer stream.Close()

	buf := make([]byte, 256)
	n, err := stream.Read(buf)
	if err != nil {
		return "", fmt.Errorf("remoting: read handshake: %w", err)
	}
	lines := splitLines(buf[:n])
	if len(lines) < 1 {
		return "", fmt.Errorf("remoting: malformed handshake frame")
	}
	if err := checkPeerVersion(lines[0]); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(stream, "%s\n%s\n", ProtocolVersion, t.sessionID); err != nil {
		return "", fmt.Errorf("remoting: write handshake reply: %w", err)
	}
	return actor.Addr(conn.RemoteAddr().String()), nil
}

func checkPeerVersion(raw string) error {
	peerVersion, err := semver.NewVersion(raw)
	if err != nil {
		return xerrors.HandshakeFailed(raw, fmt.Sprintf("malformed protocol version: %v", err))
	}
	if peerVersion.Major() != protocolConstraint.Major() {
		return xerrors.HandshakeFailed(raw, fmt.Sprintf("incompatible protocol version %s (want major %d)", peerVersion, protocolConstraint.Major()))
	}
	return nil
}

// Send delivers payload as an unreliable datagram to dst. dst must have
// previously been connected via AddEndpoint (outbound) or arrived via an
// inbound connection (accept side).
func (t *QUICTransport) Send(dst actor.Addr, payload []byte) error {
	t.mu.Lock()
	conn, ok := t.conns[dst]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("remoting: no connection to %s, call AddEndpoint first", dst)
	}
	return conn.SendDatagram(payload)
}

func quicConfig() *quic.Config {
	return &quic.Config{EnableDatagrams: true}
}

func firstLine(b []byte) string {
	lines := splitLines(b)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

func splitLines(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	return out
}
