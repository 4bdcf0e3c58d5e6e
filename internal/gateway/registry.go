package gateway

import (
	"fmt"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
)

// Registry resolves a donation's gateway to its adapter.
type Registry struct {
	adapters map[domain.Gateway]Gateway
}

func NewRegistry(adapters ...Gateway) *Registry {
	r := &Registry{adapters: make(map[domain.Gateway]Gateway, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name domain.Gateway) (Gateway, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedGateway, name)
	}
	return a, nil
}

// Names lists registered gateways.
func (r *Registry) Names() []domain.Gateway {
	names := make([]domain.Gateway, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
