package singleinstance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

type tcpClient struct {
	ports PortRange
}

func newTcpClient(ports PortRange) Client { return &tcpClient{ports: ports.normalize()} }

func (c *tcpClient) TryStart(ctx context.Context, req Request) (bool, error) {
	deadline := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			deadline = d
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return false, err
	}

	// scan configured range for resident using PING then request
	for port := c.ports.Start; port <= c.ports.End; port++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
		if !ping(addr, deadline) {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, deadline)
		if err != nil {
			continue
		}
		return true, c.send(conn, payload, deadline)
	}
	return false, nil
}

func (c *tcpClient) send(conn net.Conn, payload []byte, deadline time.Duration) error {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(deadline))

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(startRequest); err != nil {
		return err
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	switch status {
	case successResponse:
		return nil
	case errorResponse:
		msg, _ := io.ReadAll(br)
		return errors.New(string(msg))
	default:
		return errors.New("unexpected resident response " + strconv.Quote(status))
	}
}
