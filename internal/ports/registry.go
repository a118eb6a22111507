// internal/ports/registry.go
package ports

import (
	"sort"
	"sync"
	"time"

	gobug "go.bug.st/serial"

	"github.com/celestia-island/aoba-sub003/internal/registers"
)

// allow tests to override device enumeration
var getPortsList = gobug.GetPortsList

// Registry is the single owned state object for all ports. One
// reader-writer lock guards it; mutations are short transactions that
// never perform blocking I/O while holding the lock.
type Registry struct {
	mu    sync.RWMutex
	ports map[string]*Port

	defaultTimeout time.Duration
}

func NewRegistry(defaultTimeout time.Duration) *Registry {
	return &Registry{
		ports:          make(map[string]*Port),
		defaultTimeout: defaultTimeout,
	}
}

// Scan reconciles the registry against the OS device list. New devices
// appear as Free ports; devices no longer enumerated are removed unless
// this runtime still occupies them.
func (reg *Registry) Scan() (added, removed []string, err error) {
	names, err := getPortsList()
	if err != nil {
		return nil, nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		if p, ok := reg.ports[name]; ok {
			// Foreign occupancy is only ever an observation from a failed
			// open. Reset it each scan so the next open attempt re-probes.
			if p.State == OccupiedByOther {
				p.State = Free
			}
			continue
		}
		reg.ports[name] = &Port{
			Name:  name,
			State: Free,
			Form:  registers.NewForm(reg.defaultTimeout),
			Log:   NewLogRing(),
		}
		added = append(added, name)
	}
	for name, p := range reg.ports {
		if seen[name] || p.State == OccupiedByThis {
			continue
		}
		delete(reg.ports, name)
		removed = append(removed, name)
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed, nil
}

// Add registers a port outside of a scan. Used by tests and by virtual
// ports that the OS does not enumerate.
func (reg *Registry) Add(name string) *Port {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if p, ok := reg.ports[name]; ok {
		return p
	}
	p := &Port{
		Name:  name,
		State: Free,
		Form:  registers.NewForm(reg.defaultTimeout),
		Log:   NewLogRing(),
	}
	reg.ports[name] = p
	return p
}

// Names returns the known port names, sorted.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.ports))
	for name := range reg.ports {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// With runs a short transaction against one port under the write lock.
// fn must not block.
func (reg *Registry) With(name string, fn func(*Port) error) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	p, ok := reg.ports[name]
	if !ok {
		return ErrUnknownPort
	}
	return fn(p)
}

// Each runs a short transaction against every port under the write lock.
func (reg *Registry) Each(fn func(*Port)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names := make([]string, 0, len(reg.ports))
	for name := range reg.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn(reg.ports[name])
	}
}

// View runs a read-only transaction against one port.
func (reg *Registry) View(name string, fn func(*Port)) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	p, ok := reg.ports[name]
	if !ok {
		return false
	}
	fn(p)
	return true
}
