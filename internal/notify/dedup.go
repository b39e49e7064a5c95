// Package notify turns unit transitions into relay requests, keeping one
// replace key per unit so a unit's notifications replace each other.
package notify

import (
	"context"
	"os"
	"strconv"
	"sync"

	"svcnotify/internal/relay"
)

// Sender delivers a request to the relay. It returns the notification id
// when the transport reports one, 0 otherwise.
type Sender interface {
	Send(ctx context.Context, req relay.Request) (uint32, error)
}

// Options configures a Deduplicator.
type Options struct {
	// PID scopes keys to one process run; defaults to os.Getpid().
	PID     int
	AppName string
}

type entry struct {
	key string
	id  uint32
}

// Deduplicator maps unit names to relay keys ("<pid>|<unit>") and to the
// last id the relay reported for them. Entries are never removed; the map
// is bounded by the units seen during one run.
type Deduplicator struct {
	sender Sender
	prefix string
	app    string

	mu      sync.Mutex
	entries map[string]*entry
}

func New(sender Sender, opts Options) *Deduplicator {
	pid := opts.PID
	if pid <= 0 {
		pid = os.Getpid()
	}
	return &Deduplicator{
		sender:  sender,
		prefix:  strconv.Itoa(pid) + "|",
		app:     opts.AppName,
		entries: map[string]*entry{},
	}
}

// KeyFor returns the relay key for unit, creating it on first use.
func (d *Deduplicator) KeyFor(unit string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entryLocked(unit).key
}

func (d *Deduplicator) entryLocked(unit string) *entry {
	e, ok := d.entries[unit]
	if !ok {
		e = &entry{key: d.prefix + unit}
		d.entries[unit] = e
	}
	return e
}

// Notify sends a notification for unit that replaces the unit's previous one.
func (d *Deduplicator) Notify(ctx context.Context, unit, summary, body, icon string, timeout int32) error {
	d.mu.Lock()
	e := d.entryLocked(unit)
	req := relay.Request{
		AppName:    d.app,
		ReplaceID:  e.id,
		ReplaceKey: e.key,
		Icon:       icon,
		Summary:    summary,
		Body:       body,
		Timeout:    timeout,
	}
	d.mu.Unlock()

	id, err := d.sender.Send(ctx, req)
	if err != nil {
		return err
	}
	if id != 0 {
		d.mu.Lock()
		e.id = id
		d.mu.Unlock()
	}
	return nil
}

// Len returns the number of units with a key.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
