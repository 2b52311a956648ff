package cookies

import (
	"context"
	"strings"
	"sync"
)

var _ Store = (*Jar)(nil)

// Jar is an in-memory cookie store keyed by host and name that emits change events.
type Jar struct {
	mu          sync.RWMutex
	cookies     map[string]map[string]Cookie
	subscribers map[int]func(Change)
	nextID      int
}

func NewJar() *Jar {
	return &Jar{
		cookies:     make(map[string]map[string]Cookie),
		subscribers: make(map[int]func(Change)),
	}
}

func (j *Jar) Get(_ context.Context, rawURL, name string) (Cookie, bool, error) {
	host, err := Host(rawURL)
	if err != nil {
		return Cookie{}, false, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	c, ok := j.cookies[host][name]
	return c, ok, nil
}

func (j *Jar) Set(_ context.Context, rawURL string, c Cookie) error {
	host, err := Host(rawURL)
	if err != nil {
		return err
	}
	c.Domain = host

	j.mu.Lock()
	if j.cookies[host] == nil {
		j.cookies[host] = make(map[string]Cookie)
	}
	j.cookies[host][c.Name] = c
	subs := j.snapshot()
	j.mu.Unlock()

	notify(subs, Change{Cookie: c, Cause: "explicit"})
	return nil
}

// Remove deletes a cookie. Removing an absent cookie is not an error and emits nothing.
func (j *Jar) Remove(_ context.Context, rawURL, name string) error {
	host, err := Host(rawURL)
	if err != nil {
		return err
	}

	j.mu.Lock()
	c, ok := j.cookies[host][name]
	if ok {
		delete(j.cookies[host], name)
	}
	subs := j.snapshot()
	j.mu.Unlock()

	if ok {
		notify(subs, Change{Cookie: c, Removed: true, Cause: "explicit"})
	}
	return nil
}

// Apply records a change reported by the browser and forwards it to subscribers. Domain
// cookies (".example.com") are filed under their host.
func (j *Jar) Apply(change Change) {
	host := hostKey(change.Cookie.Domain)
	j.mu.Lock()
	if change.Removed {
		delete(j.cookies[host], change.Cookie.Name)
	} else {
		if j.cookies[host] == nil {
			j.cookies[host] = make(map[string]Cookie)
		}
		j.cookies[host][change.Cookie.Name] = change.Cookie
	}
	subs := j.snapshot()
	j.mu.Unlock()

	notify(subs, change)
}

func hostKey(domain string) string {
	return strings.TrimPrefix(domain, ".")
}

func (j *Jar) OnChanged(fn func(Change)) func() {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.nextID
	j.nextID++
	j.subscribers[id] = fn
	return func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		delete(j.subscribers, id)
	}
}

func (j *Jar) snapshot() []func(Change) {
	subs := make([]func(Change), 0, len(j.subscribers))
	for _, fn := range j.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Change), change Change) {
	for _, fn := range subs {
		fn(change)
	}
}
