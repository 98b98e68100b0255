package singleinstance

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const (
	residentHost    = "127.0.0.1"
	pingRequest     = "PING\n"
	pongResponse    = "PONG\n"
	startRequest    = "START\n"
	successResponse = "SUCCESS\n"
	errorResponse   = "ERROR\n"
)

// tcpServer implements Server over TCP loopback.
type tcpServer struct {
	ports    PortRange
	lis      net.Listener
	incoming chan *tcpConn
	closed   chan struct{}
	once     sync.Once
	port     int
}

func newTcpServer(ports PortRange) Server {
	return &tcpServer{
		ports:    ports.normalize(),
		incoming: make(chan *tcpConn, 8),
		closed:   make(chan struct{}),
	}
}

// Start binds ONLY the start port of the configured range. If occupied, fail.
func (s *tcpServer) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", residentHost, s.ports.Start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("singleinstance: failed to bind %s: %v", addr, err)
		return err
	}
	s.lis = lis
	s.port = s.ports.Start
	log.Printf("singleinstance: listening on %s", addr)
	go s.acceptLoop(ctx)
	return nil
}

// Port returns the bound port (0 if not started).
func (s *tcpServer) Port() int { return s.port }

func (s *tcpServer) acceptLoop(ctx context.Context) {
	for {
		c, err := s.lis.Accept()
		if err != nil {
			return
		}
		tc, ok := s.handshake(c)
		if !ok {
			continue
		}
		select {
		case s.incoming <- tc:
		case <-s.closed:
			_ = c.Close()
			return
		case <-ctx.Done():
			_ = c.Close()
			return
		}
	}
}

// handshake answers PING directly and parses START requests. It reports
// false when the connection was fully handled.
func (s *tcpServer) handshake(c net.Conn) (*tcpConn, bool) {
	remote := c.RemoteAddr().String()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)

	line, _ := br.ReadString('\n')
	switch line {
	case pingRequest:
		log.Printf("singleinstance: PING from %s -> PONG", remote)
		_, _ = bw.WriteString(pongResponse)
		_ = bw.Flush()
		_ = c.Close()
		return nil, false

	case startRequest:
		tc := &tcpConn{c: c, w: bw}
		body, err := br.ReadBytes('\n')
		if err == nil {
			err = json.Unmarshal(body, &tc.r)
		}
		if err != nil {
			log.Printf("singleinstance: bad request from %s: %v", remote, err)
			_ = tc.RespondError(fmt.Sprintf("bad request: %v", err))
			_ = c.Close()
			return nil, false
		}
		_ = c.SetDeadline(time.Time{})
		log.Printf("singleinstance: START from %s with %d images", remote, len(tc.r.Queue))
		return tc, true

	default:
		log.Printf("singleinstance: unknown request %q from %s", line, remote)
		_ = c.Close()
		return nil, false
	}
}

func (s *tcpServer) Next(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, net.ErrClosed
	case tc := <-s.incoming:
		return tc, nil
	}
}

func (s *tcpServer) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.lis != nil {
			_ = s.lis.Close()
		}
	})
	return nil
}

type tcpConn struct {
	c net.Conn
	r Request
	w *bufio.Writer
}

func (tc *tcpConn) Request() Request { return tc.r }

func (tc *tcpConn) RespondSuccess() error {
	if _, err := tc.w.WriteString(successResponse); err != nil {
		return err
	}
	return tc.w.Flush()
}

func (tc *tcpConn) RespondError(msg string) error {
	if _, err := tc.w.WriteString(errorResponse + msg); err != nil {
		return err
	}
	return tc.w.Flush()
}

func (tc *tcpConn) Close() error { return tc.c.Close() }
