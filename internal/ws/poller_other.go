//go:build !linux

package ws

import (
	"bufio"
	"errors"
	"sync"
	"time"
)

const waitTimeout = 500 * time.Millisecond

// poller provides a goroutine-per-connection fallback for platforms without
// epoll. Each connection gets a monitor goroutine that peeks a buffered reader
// for pending bytes and then parks until the worker that read the frame
// resumes it. Peeking consumes nothing, so the worker sees the whole frame.
type poller struct {
	mu    sync.Mutex
	conns map[*Connection]struct{}
	ready chan *Connection
	done  chan struct{}
}

func newPoller() (*poller, error) {
	return &poller{
		conns: make(map[*Connection]struct{}),
		ready: make(chan *Connection, 128),
		done:  make(chan struct{}),
	}, nil
}

func (p *poller) add(c *Connection) error {
	br := bufio.NewReader(c.Conn)
	c.src = br
	c.resume = make(chan struct{}, 1)

	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.mu.Unlock()

	go p.monitor(c, br)
	return nil
}

// monitor signals readiness whenever bytes are buffered or the connection
// fails. A failure is reported once so the read path can observe it.
func (p *poller) monitor(c *Connection, br *bufio.Reader) {
	for {
		_, err := br.Peek(1)

		select {
		case p.ready <- c:
		case <-p.done:
			return
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-c.resume:
		case <-p.done:
			return
		case <-c.closed:
			return
		}
	}
}

func (p *poller) remove(c *Connection) error {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	return nil
}

func (p *poller) resume(c *Connection) error {
	select {
	case c.resume <- struct{}{}:
	default:
	}
	return nil
}

func (p *poller) wait() ([]*Connection, error) {
	var first *Connection
	select {
	case first = <-p.ready:
	case <-p.done:
		return nil, errors.New("ws: poller closed")
	case <-time.After(waitTimeout):
		return nil, nil
	}

	conns := []*Connection{first}
	for {
		select {
		case c := <-p.ready:
			conns = append(conns, c)
		default:
			return conns, nil
		}
	}
}

func (p *poller) close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

func isEINTR(error) bool { return false }
