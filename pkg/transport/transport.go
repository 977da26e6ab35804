// Package transport carries typed messages between actor endpoints.
//
// Each message travels as a CBOR envelope in a length-delimited frame
// on a persistent TCP connection. Sends are fire-and-forget: a single
// writer goroutine per peer preserves the caller's send order, and
// delivery failures surface only as peer-exit notifications for
// endpoints the owner has linked against.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/messages"
)

// maxFrameSize bounds a single message frame.
const maxFrameSize = 16 << 20

// outboundBuffer is the per-peer send queue depth; sends beyond it are
// dropped with a warning rather than blocking the caller.
const outboundBuffer = 256

// Envelope is the wire frame payload.
type Envelope struct {
	Type string              `cbor:"type"`
	From string              `cbor:"from"`
	Body messages.RawMessage `cbor:"body"`
}

// Handler receives inbound messages and peer-exit notifications. Both
// are invoked from transport goroutines; implementations are expected
// to enqueue into their own serialization (the agent's mailbox).
type Handler interface {
	HandleMessage(from PID, msg messages.Message)
	HandleExited(peer PID)
}

// Transport is one endpoint: a listener for inbound connections plus
// an ordered outbound lane per remote peer.
type Transport struct {
	pid     PID
	handler Handler
	ln      net.Listener
	logger  zerolog.Logger

	mu      sync.Mutex
	peers   map[string]*peer
	linked  map[string]bool
	inbound map[net.Conn]struct{}
	closed  bool

	wg sync.WaitGroup
}

// New opens a listener on listenAddr and returns a transport whose PID
// is id@<bound address>. Start must be called before messages flow.
func New(id, listenAddr string, handler Handler) (*Transport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	t := &Transport{
		pid:     PID{ID: id, Addr: ln.Addr().String()},
		handler: handler,
		ln:      ln,
		logger:  log.WithComponent("transport"),
		peers:   make(map[string]*peer),
		linked:  make(map[string]bool),
		inbound: make(map[net.Conn]struct{}),
	}
	return t, nil
}

// PID returns this endpoint's address.
func (t *Transport) PID() PID {
	return t.pid
}

// Start begins accepting inbound connections.
func (t *Transport) Start() {
	t.wg.Add(1)
	go t.acceptLoop()
}

// Close stops the listener and tears down every peer connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.peers = make(map[string]*peer)
	conns := make([]net.Conn, 0, len(t.inbound))
	for conn := range t.inbound {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	err := t.ln.Close()
	for _, p := range peers {
		p.stop()
	}
	for _, conn := range conns {
		conn.Close()
	}
	t.wg.Wait()
	return err
}

// Send delivers msg to the peer, preserving order with respect to
// other sends to the same peer. Sends to the zero PID are dropped.
func (t *Transport) Send(to PID, msg messages.Message) {
	if to.Empty() {
		t.logger.Warn().Str("type", msg.TypeName()).Msg("Dropping message with no recipient")
		return
	}

	body, err := messages.Marshal(msg)
	if err != nil {
		t.logger.Error().Err(err).Str("type", msg.TypeName()).Msg("Failed to encode message")
		return
	}
	frame, err := messages.Marshal(Envelope{
		Type: msg.TypeName(),
		From: t.pid.String(),
		Body: body,
	})
	if err != nil {
		t.logger.Error().Err(err).Str("type", msg.TypeName()).Msg("Failed to encode envelope")
		return
	}

	p := t.peerFor(to)
	if p == nil {
		return
	}
	select {
	case p.out <- frame:
	default:
		t.logger.Warn().
			Str("peer", to.String()).
			Str("type", msg.TypeName()).
			Msg("Outbound queue full, dropping message")
	}
}

// Link requests an exit notification for the peer: when its connection
// cannot be established or breaks, the handler's HandleExited fires.
func (t *Transport) Link(to PID) {
	if to.Empty() {
		return
	}
	t.mu.Lock()
	t.linked[to.String()] = true
	t.mu.Unlock()

	// Establish the connection now so liveness is observed even if
	// nothing is sent for a while.
	t.peerFor(to)
}

// Unlink cancels exit notifications for the peer.
func (t *Transport) Unlink(to PID) {
	t.mu.Lock()
	delete(t.linked, to.String())
	t.mu.Unlock()
}

func (t *Transport) peerFor(to PID) *peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if p, ok := t.peers[to.String()]; ok {
		return p
	}
	p := &peer{
		transport: t,
		to:        to,
		out:       make(chan []byte, outboundBuffer),
		done:      make(chan struct{}),
	}
	t.peers[to.String()] = p
	t.wg.Add(1)
	go p.run()
	return p
}

// peerFailed tears down the peer's outbound lane and, when linked,
// reports the exit. The next Send re-dials.
func (t *Transport) peerFailed(p *peer, err error) {
	t.mu.Lock()
	if t.peers[p.to.String()] == p {
		delete(t.peers, p.to.String())
	}
	linked := t.linked[p.to.String()]
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}
	t.logger.Debug().Err(err).Str("peer", p.to.String()).Msg("Peer connection lost")
	if linked {
		t.handler.HandleExited(p.to)
	}
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.inbound[conn] = struct{}{}
		t.mu.Unlock()
		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

func (t *Transport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		conn.Close()
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
	}()

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.logger.Debug().Err(err).Msg("Inbound connection closed")
			}
			return
		}

		var env Envelope
		if err := messages.Unmarshal(frame, &env); err != nil {
			t.logger.Warn().Err(err).Msg("Dropping undecodable envelope")
			continue
		}
		from, err := ParsePID(env.From)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Dropping envelope with malformed sender")
			continue
		}
		msg, err := messages.Decode(env.Type, env.Body)
		if err != nil {
			t.logger.Warn().Err(err).Str("type", env.Type).Msg("Dropping undecodable message")
			continue
		}
		t.handler.HandleMessage(from, msg)
	}
}

// peer owns the ordered outbound lane to one remote endpoint.
type peer struct {
	transport *Transport
	to        PID
	out       chan []byte
	done      chan struct{}
	stopOnce  sync.Once
}

func (p *peer) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

func (p *peer) run() {
	defer p.transport.wg.Done()

	conn, err := net.Dial("tcp", p.to.Addr)
	if err != nil {
		p.transport.peerFailed(p, err)
		return
	}
	defer conn.Close()

	// Watch for remote close so linked peers surface exits even when
	// the outbound lane is idle.
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case frame := <-p.out:
			if err := writeFrame(conn, frame); err != nil {
				p.transport.peerFailed(p, err)
				return
			}
		case err := <-readErr:
			p.transport.peerFailed(p, err)
			return
		case <-p.done:
			return
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeFrame(w io.Writer, frame []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}
