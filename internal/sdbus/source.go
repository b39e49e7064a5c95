package sdbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"svcnotify/internal/unit"
)

const signalBuffer = 64

// Source delivers the manager's JobRemoved signals from one connection.
type Source struct {
	conn   *dbus.Conn
	caller Caller

	mu sync.Mutex
	ch chan *dbus.Signal
}

func NewSource(conn *dbus.Conn) *Source {
	return &Source{conn: conn, caller: ConnCaller{Conn: conn}}
}

// Subscribe enables signal emission on the manager, installs the match rule
// and starts delivery. It must be called once, before Signals.
func (s *Source) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrClosed
	}
	if s.ch != nil {
		return nil
	}

	if err := s.caller.Call(ctx, ManagerName, unit.ManagerPath, ManagerInterface+".Subscribe").Err; err != nil {
		return fmt.Errorf("manager subscribe: %w", err)
	}

	err := s.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchSender(ManagerName),
		dbus.WithMatchObjectPath(unit.ManagerPath),
		dbus.WithMatchInterface(ManagerInterface),
		dbus.WithMatchMember(SignalJobRemoved),
	)
	if err != nil {
		return fmt.Errorf("add match %s.%s: %w", ManagerInterface, SignalJobRemoved, err)
	}

	s.ch = make(chan *dbus.Signal, signalBuffer)
	s.conn.Signal(s.ch)
	return nil
}

// Signals returns the delivery channel; nil before Subscribe. godbus closes
// it when the connection goes away.
func (s *Source) Signals() <-chan *dbus.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Caller exposes the source's connection for the resolver, which must share it.
func (s *Source) Caller() Caller { return s.caller }

// Close stops delivery. The connection itself belongs to the caller.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.ch != nil {
		s.conn.RemoveSignal(s.ch)
	}
	s.ch = nil
}
