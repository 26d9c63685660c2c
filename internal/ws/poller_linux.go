//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitTimeoutMs bounds each epoll_wait so the event loop notices shutdown.
const waitTimeoutMs = 500

// poller wraps Linux epoll. Instead of a reader goroutine per connection, file
// descriptors are registered with the kernel in one-shot mode: a descriptor
// reports readiness once and stays silent until resume re-arms it, so a
// connection is never handed to two workers at the same time.
type poller struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]*Connection // fd -> Connection
	events []unix.EpollEvent   // reusable event buffer for wait
}

const pollEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{
		fd:     fd,
		conns:  make(map[int]*Connection),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// add registers c for read readiness.
func (p *poller) add(c *Connection) error {
	fd := socketFD(c.Conn)
	if fd < 0 {
		return syscall.EINVAL
	}
	c.fd = fd

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: pollEvents,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}
	p.conns[fd] = c
	return nil
}

// remove unregisters c. It must be called before the descriptor is closed so
// a reused fd number is never confused with c.
func (p *poller) remove(c *Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[c.fd] != c {
		return nil
	}
	delete(p.conns, c.fd)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, c.fd, nil)
}

// resume re-arms c after a worker finished reading from it.
func (p *poller) resume(c *Connection) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.conns[c.fd] != c {
		return nil
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{
		Events: pollEvents,
		Fd:     int32(c.fd),
	})
}

// wait blocks until registered connections are ready or the wait times out,
// in which case it returns an empty slice.
func (p *poller) wait() ([]*Connection, error) {
	n, err := unix.EpollWait(p.fd, p.events, waitTimeoutMs)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	conns := make([]*Connection, 0, n)
	for i := 0; i < n; i++ {
		if c, ok := p.conns[int(p.events[i].Fd)]; ok {
			conns = append(conns, c)
		}
	}
	p.mu.RUnlock()
	return conns, nil
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = nil
	return unix.Close(p.fd)
}

// socketFD extracts the file descriptor from a net.Conn using the
// SyscallConn interface. This avoids duplicating the file descriptor
// (which File() does), keeping the original fd valid for epoll registration.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}

// isEINTR reports whether err is an interrupted system call, which is
// expected during signal handling and should be retried.
func isEINTR(err error) bool {
	return err == unix.EINTR
}
