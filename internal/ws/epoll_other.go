//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is the goroutine-per-connection fallback for non-Linux platforms,
// so development on macOS and Windows works without the Linux epoll path.
// Each connection gets a monitor goroutine blocking on a 1-byte read; ready
// connections are funneled through a channel that Wait drains.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[*Connection]struct{}
	readyCh chan *Connection
	done    chan struct{}
}

// NewEpoll creates the fallback readiness monitor.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[*Connection]struct{}),
		readyCh: make(chan *Connection, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection by spawning its monitor goroutine.
func (e *Epoll) Add(c *Connection) error {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()

	go e.monitor(c)
	return nil
}

// monitor blocks reading a single byte from the connection to detect when
// data is available, signaling readiness until the connection errors or
// the monitor is shut down. The consumed byte is lost; the Linux epoll
// path does not share this cost, which is why the fallback is development
// only.
func (e *Epoll) monitor(c *Connection) {
	buf := make([]byte, 1)
	for {
		_, err := c.Conn.Read(buf)
		if err != nil {
			// Closed or errored: signal readiness once more so the read
			// path observes the closure and tears the session down.
			select {
			case e.readyCh <- c:
			case <-e.done:
			}
			return
		}

		select {
		case e.readyCh <- c:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters a connection. Its monitor goroutine exits on the next
// read error after the socket is closed.
func (e *Epoll) Remove(c *Connection) error {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready for reading, then
// drains any additional ready connections without blocking.
func (e *Epoll) Wait() ([]*Connection, error) {
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []*Connection{first}
	for {
		select {
		case c := <-e.readyCh:
			conns = append(conns, c)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback monitor.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no role in the fallback; connections are tracked directly.
func socketFD(conn net.Conn) int {
	return -1
}
