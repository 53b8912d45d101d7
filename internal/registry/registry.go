package registry

import (
	"fmt"

	"github.com/loykin/initd/internal/service"
)

// ErrDuplicateService is returned when two definitions share a name.
var ErrDuplicateService = fmt.Errorf("duplicate service name")

// Registry is the ordered table of services. Insertion order is preserved:
// it determines start order at boot and reverse order at shutdown.
type Registry struct {
	order  []*service.Service
	byName map[string]*service.Service
}

// Load builds a registry from definitions. It fails on the first duplicate
// name so no partial registry escapes.
func Load(defs []service.Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]*service.Service, len(defs))}
	for _, def := range defs {
		if _, ok := r.byName[def.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateService, def.Name)
		}
		svc := service.New(def)
		r.order = append(r.order, svc)
		r.byName[def.Name] = svc
	}
	return r, nil
}

// All returns services in insertion order. The slice is shared; callers must
// not reorder it.
func (r *Registry) All() []*service.Service { return r.order }

func (r *Registry) Len() int { return len(r.order) }

func (r *Registry) Find(name string) (*service.Service, bool) {
	svc, ok := r.byName[name]
	return svc, ok
}

// FindByPID resolves a reaped child pid back to its service, if any.
func (r *Registry) FindByPID(pid int) (*service.Service, bool) {
	if pid <= 0 {
		return nil, false
	}
	for _, svc := range r.order {
		if svc.PID() == pid {
			return svc, true
		}
	}
	return nil, false
}
