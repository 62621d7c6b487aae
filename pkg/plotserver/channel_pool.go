package plotserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const unbound = -1

// poolEntry serializes writes to one conn; the websocket allows a single
// concurrent writer.
type poolEntry struct {
	pageID  int
	writeMu sync.Mutex
}

// ChannelPool tracks the relay's websocket channels and which page each one is
// attached to. When the last attached channel goes away, onIdle runs so the
// server can re-evaluate whether it may shut down.
type ChannelPool struct {
	mu           sync.Mutex
	conns        map[wsConn]*poolEntry
	attached     int
	writeTimeout time.Duration
	onIdle       func()
}

func NewChannelPool(writeTimeout time.Duration, onIdle func()) *ChannelPool {
	return &ChannelPool{
		conns:        map[wsConn]*poolEntry{},
		writeTimeout: writeTimeout,
		onIdle:       onIdle,
	}
}

func (cp *ChannelPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	if _, ok := cp.conns[conn]; !ok {
		cp.conns[conn] = &poolEntry{pageID: unbound}
	}
	cp.mu.Unlock()
}

// Attach binds conn to a page. Rebinding an attached conn keeps the count.
func (cp *ChannelPool) Attach(conn wsConn, pageID int) bool {
	if cp == nil || conn == nil {
		return false
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	e, ok := cp.conns[conn]
	if !ok {
		return false
	}
	if e.pageID == unbound {
		cp.attached++
	}
	e.pageID = pageID
	return true
}

// Detach unbinds conn but keeps it open.
func (cp *ChannelPool) Detach(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	idle := cp.detachLocked(conn)
	cp.mu.Unlock()
	cp.fireIdle(idle)
}

// Remove forgets conn and closes it.
func (cp *ChannelPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		_ = closeConn(conn)
		return
	}
	cp.mu.Lock()
	idle := cp.detachLocked(conn)
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = closeConn(conn)
	cp.fireIdle(idle)
}

// Send writes one text frame. Writes to the same conn never overlap. A failed
// write drops and closes the channel.
func (cp *ChannelPool) Send(conn wsConn, data []byte) error {
	if cp == nil || conn == nil {
		return nil
	}
	cp.mu.Lock()
	e, ok := cp.conns[conn]
	cp.mu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if cp.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("component", "plotserver").Msg("ws send failed, dropping channel")
		cp.Remove(conn)
		return err
	}
	return nil
}

func (cp *ChannelPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

// Attached counts channels currently bound to a page.
func (cp *ChannelPool) Attached() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.attached
}

// CloseAll closes every channel without running the idle callback.
func (cp *ChannelPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		_ = closeConn(conn)
		delete(cp.conns, conn)
	}
	cp.attached = 0
	cp.mu.Unlock()
}

func (cp *ChannelPool) detachLocked(conn wsConn) bool {
	e, ok := cp.conns[conn]
	if !ok || e.pageID == unbound {
		return false
	}
	e.pageID = unbound
	cp.attached--
	return cp.attached == 0
}

func (cp *ChannelPool) fireIdle(idle bool) {
	if idle && cp.onIdle != nil {
		cp.onIdle()
	}
}

func closeConn(conn wsConn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
