package mqttbroker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Message is a QoS 0 publish received from a client.
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
}

// Handler is invoked for each received publish, before it is forwarded to subscribers.
type Handler func(context.Context, Message)

type clientSession struct {
	conn     net.Conn
	reader   *bufio.Reader
	writeMu  sync.Mutex
	clientID string
	closed   atomic.Bool

	subsMu  sync.RWMutex
	filters map[string]struct{}
}

func newSession(conn net.Conn) *clientSession {
	return &clientSession{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		filters: make(map[string]struct{}),
	}
}

func (c *clientSession) matches(topic string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for filter := range c.filters {
		if MatchTopic(filter, topic) {
			return true
		}
	}
	return false
}

func (c *clientSession) subscribe(filter string) {
	c.subsMu.Lock()
	c.filters[filter] = struct{}{}
	c.subsMu.Unlock()
}

func (c *clientSession) unsubscribe(filter string) {
	c.subsMu.Lock()
	delete(c.filters, filter)
	c.subsMu.Unlock()
}

func (c *clientSession) writePacket(packet []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(packet)
	return err
}

// Broker is a minimal MQTT v3.1.1 broker supporting QoS 0 publish and
// subscribe with + and # topic filters. It stands in for the Service Edge
// when no external broker is configured.
type Broker struct {
	logger       *slog.Logger
	listener     net.Listener
	handler      atomic.Value // stores Handler
	mu           sync.Mutex
	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	clientsMu sync.RWMutex
	clients   map[*clientSession]struct{}
}

// New constructs a broker with the supplied logger.
func New(logger *slog.Logger) *Broker {
	b := &Broker{logger: logger, clients: make(map[*clientSession]struct{})}
	b.handler.Store(Handler(func(context.Context, Message) {}))
	return b
}

// Start begins listening for MQTT clients on bind. ctx is passed to the
// publish handler. The returned channel is closed once the accept loop
// terminates; fatal errors are sent on it.
func (b *Broker) Start(ctx context.Context, bind string) (<-chan error, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("mqtt listen: %w", err)
	}

	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	errCh := make(chan error, 1)

	b.logger.Info("mqtt broker listening", "addr", ln.Addr().String())

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(errCh)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if b.shuttingDown.Load() {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					b.logger.Warn("temporary accept error", "error", err)
					time.Sleep(50 * time.Millisecond)
					continue
				}
				errCh <- fmt.Errorf("mqtt accept: %w", err)
				return
			}

			session := newSession(conn)
			if !b.addClient(session) {
				_ = conn.Close()
				return
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleConn(ctx, session)
			}()
		}
	}()

	return errCh, nil
}

// Addr returns the bound listener address, or nil before Start.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop shuts down the broker and releases resources.
func (b *Broker) Stop() error {
	if !b.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	ln := b.listener
	b.listener = nil
	b.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	b.clientsMu.Lock()
	for session := range b.clients {
		session.closed.Store(true)
		_ = session.conn.Close()
	}
	b.clients = make(map[*clientSession]struct{})
	b.clientsMu.Unlock()

	b.wg.Wait()
	return nil
}

// SetPublishHandler installs the function invoked for each received publish.
func (b *Broker) SetPublishHandler(h Handler) {
	if h == nil {
		h = func(context.Context, Message) {}
	}
	b.handler.Store(h)
}

// Publish sends a QoS 0 message to every client whose filters match topic
// and returns the number of clients written to.
func (b *Broker) Publish(topic string, payload []byte) (int, error) {
	if b.shuttingDown.Load() {
		return 0, net.ErrClosed
	}
	return b.forward(topic, payload)
}

func (b *Broker) forward(topic string, payload []byte) (int, error) {
	packet, err := buildPublishPacket(topic, payload)
	if err != nil {
		return 0, err
	}

	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	delivered := 0
	for session := range b.clients {
		if !session.matches(topic) {
			continue
		}
		if err := session.writePacket(packet); err != nil {
			b.logger.Warn("publish to subscriber failed", "client", session.clientID, "topic", topic, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// addClient registers session unless Stop has begun; Stop sets shuttingDown
// before sweeping clients under the same lock.
func (b *Broker) addClient(session *clientSession) bool {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	if b.shuttingDown.Load() {
		return false
	}
	b.clients[session] = struct{}{}
	return true
}

func (b *Broker) removeClient(session *clientSession) {
	b.clientsMu.Lock()
	delete(b.clients, session)
	b.clientsMu.Unlock()
}

func (b *Broker) handleConn(ctx context.Context, session *clientSession) {
	defer func() {
		session.closed.Store(true)
		b.removeClient(session)
		_ = session.conn.Close()
	}()

	connected := false

	for {
		header, err := session.reader.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.logger.Debug("read header error", "error", err)
			}
			return
		}

		remaining, err := readVarInt(session.reader)
		if err != nil {
			b.logger.Debug("read remaining length error", "error", err)
			return
		}

		payload := make([]byte, remaining)
		if _, err := io.ReadFull(session.reader, payload); err != nil {
			b.logger.Debug("read packet payload error", "error", err)
			return
		}

		packetType := header >> 4
		if !connected && packetType != packetConnect {
			b.logger.Debug("packet before connect", "type", packetType)
			return
		}

		switch packetType {
		case packetConnect:
			if connected {
				b.logger.Debug("duplicate connect", "client", session.clientID)
				return
			}
			if err := b.handleConnect(session, payload); err != nil {
				b.logger.Debug("handle connect error", "error", err)
				return
			}
			connected = true
		case packetPublish:
			msg, err := parsePublish(header, payload)
			if err != nil {
				b.logger.Debug("parse publish error", "client", session.clientID, "error", err)
				return
			}
			msg.ClientID = session.clientID
			if h, ok := b.handler.Load().(Handler); ok {
				safeInvoke(h, ctx, msg, b.logger)
			}
			if _, err := b.forward(msg.Topic, msg.Payload); err != nil {
				b.logger.Debug("forward publish failed", "topic", msg.Topic, "error", err)
			}
		case packetSubscribe:
			if err := b.handleSubscribe(session, payload); err != nil {
				b.logger.Debug("handle subscribe error", "client", session.clientID, "error", err)
				return
			}
		case packetUnsubscribe:
			if err := b.handleUnsubscribe(session, payload); err != nil {
				b.logger.Debug("handle unsubscribe error", "client", session.clientID, "error", err)
				return
			}
		case packetPingReq:
			if err := session.writePacket(pingResp); err != nil {
				b.logger.Debug("write pingresp error", "error", err)
				return
			}
		case packetDisconnect:
			return
		default:
			b.logger.Debug("unsupported packet", "type", packetType)
			return
		}
	}
}

func (b *Broker) handleConnect(session *clientSession, payload []byte) error {
	rd := bytesReader(payload)

	protoName, err := rd.readString()
	if err != nil {
		return fmt.Errorf("read protocol name: %w", err)
	}
	if protoName != "MQTT" {
		return fmt.Errorf("unsupported protocol %q", protoName)
	}

	level, err := rd.readByte()
	if err != nil {
		return fmt.Errorf("read protocol level: %w", err)
	}
	if level != 4 { // MQTT 3.1.1
		return fmt.Errorf("unsupported protocol level %d", level)
	}

	flags, err := rd.readByte()
	if err != nil {
		return fmt.Errorf("read connect flags: %w", err)
	}
	if flags&0x01 != 0 {
		return fmt.Errorf("reserved connect flag set")
	}

	if _, err := rd.readUint16(); err != nil { // keep alive
		return fmt.Errorf("read keepalive: %w", err)
	}

	clientID, err := rd.readString()
	if err != nil {
		return fmt.Errorf("read client id: %w", err)
	}
	if clientID == "" {
		clientID = fmt.Sprintf("anon-%d", time.Now().UnixNano())
	}
	session.clientID = clientID

	// Will message, username and password are read and discarded.
	if flags&0x04 != 0 {
		if _, err := rd.readString(); err != nil {
			return fmt.Errorf("read will topic: %w", err)
		}
		if _, err := rd.readString(); err != nil {
			return fmt.Errorf("read will message: %w", err)
		}
	}
	if flags&0x80 != 0 {
		if _, err := rd.readString(); err != nil {
			return fmt.Errorf("read username: %w", err)
		}
	}
	if flags&0x40 != 0 {
		if _, err := rd.readString(); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	if err := session.writePacket(connAckAccepted); err != nil {
		return fmt.Errorf("write connack: %w", err)
	}

	b.logger.Debug("mqtt client connected", "client", clientID)
	return nil
}

func (b *Broker) handleSubscribe(session *clientSession, payload []byte) error {
	packetID, filters, err := parseTopicList(payload, true)
	if err != nil {
		return err
	}

	granted := make([]bool, len(filters))
	for i, filter := range filters {
		if err := ValidateFilter(filter); err != nil {
			b.logger.Debug("rejected subscription", "client", session.clientID, "error", err)
			continue
		}
		session.subscribe(filter)
		granted[i] = true
	}

	return session.writePacket(buildSubAck(packetID, granted))
}

func (b *Broker) handleUnsubscribe(session *clientSession, payload []byte) error {
	packetID, filters, err := parseTopicList(payload, false)
	if err != nil {
		return err
	}
	for _, filter := range filters {
		session.unsubscribe(filter)
	}
	return session.writePacket(buildUnsubAck(packetID))
}

func safeInvoke(h Handler, ctx context.Context, msg Message, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("publish handler panic", "topic", msg.Topic, "panic", r)
		}
	}()
	h(ctx, msg)
}
