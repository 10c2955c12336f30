//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll multiplexes read readiness for all live connections over a single
// kernel epoll instance, instead of parking a goroutine per socket. It
// resolves ready file descriptors back to their Connection, so the event
// loop hands complete Connection values to the read workers.
type Epoll struct {
	fd     int                 // epoll file descriptor
	mu     sync.RWMutex        // protects conns
	conns  map[int]*Connection // socket fd -> connection
	events []unix.EpollEvent   // reusable event buffer for Wait
}

// NewEpoll creates a new epoll instance using epoll_create1.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		conns:  make(map[int]*Connection),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers a connection for read readiness notifications, using the
// socket fd captured at upgrade time.
func (e *Epoll) Add(c *Connection) error {
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, c.Fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(c.Fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.conns[c.Fd] = c
	e.mu.Unlock()
	return nil
}

// Remove unregisters a connection from the epoll interest list.
func (e *Epoll) Remove(c *Connection) error {
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, c.Fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conns, c.Fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until one or more registered sockets are ready for reading
// and returns their connections. Descriptors removed between epoll_wait
// returning and the lookup are silently skipped.
func (e *Epoll) Wait() ([]*Connection, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	conns := make([]*Connection, 0, n)
	for i := 0; i < n; i++ {
		if c, ok := e.conns[int(e.events[i].Fd)]; ok {
			conns = append(conns, c)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close closes the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = nil
	return unix.Close(e.fd)
}

// socketFD extracts the file descriptor from a net.Conn using the
// SyscallConn interface. This avoids duplicating the file descriptor
// (which File() does), keeping the original fd valid for epoll
// registration.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
