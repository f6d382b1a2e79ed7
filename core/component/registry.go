package component

import (
	"fmt"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
)

// Factory creates an adapter (or a utility) from the adapted objects.
type Factory func(objects ...any) (any, error)

// Handler reacts to an event. Handlers are subscribers that produce nothing.
type Handler func(objects ...any) error

// Kind identifies the type of a registration.
type Kind string

// Registration kinds.
const (
	KindAdapter      Kind = "adapter"
	KindUtility      Kind = "utility"
	KindHandler      Kind = "handler"
	KindSubscription Kind = "subscriptionAdapter"
)

// Registration describes one entry of the registry, for introspection.
type Registration struct {
	Kind     Kind
	Required []Spec
	Provided *Interface
	Name     string
	Value    any
	Info     string
}

type subscription struct {
	required []Spec
	provided *Interface
	factory  Factory
	handler  Handler
	info     string
}

// Registry stores adapters, utilities and subscribers. It is safe for
// concurrent use; lookups are cached until the next registration.
type Registry struct {
	mu sync.RWMutex

	// adapters indexed by the key of their required specs
	adapters map[string][]Registration

	// utilities indexed by provided interface, then name
	utilities map[*Interface]map[string]Registration

	subscribers []subscription

	// registration order, for introspection
	log []Registration

	lookups *cache.Cache
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[string][]Registration),
		utilities: make(map[*Interface]map[string]Registration),
		lookups:   cache.New(cache.NoExpiration, 0),
	}
}

func requiredKey(required []Spec) string {
	keys := make([]string, len(required))
	for i, s := range required {
		if s == nil {
			s = Object
		}
		keys[i] = s.DiscriminatorKey()
	}
	return strings.Join(keys, "|")
}

// Register stores value for (required, provided, name). A later registration
// with the same key replaces the earlier one. Value is returned as-is by
// LookupAdapter; QueryAdapter expects it to be a Factory.
func (r *Registry) Register(required []Spec, provided *Interface, name string, value any, info string) error {
	if provided == nil {
		return fmt.Errorf("register adapter: provided interface is required")
	}
	norm := make([]Spec, len(required))
	for i, s := range required {
		if s == nil {
			s = Object
		}
		norm[i] = s
	}

	reg := Registration{
		Kind:     KindAdapter,
		Required: norm,
		Provided: provided,
		Name:     name,
		Value:    value,
		Info:     info,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := requiredKey(norm)
	regs := r.adapters[key]
	replaced := false
	for i, existing := range regs {
		if existing.Provided == provided && existing.Name == name {
			regs[i] = reg
			replaced = true
			break
		}
	}
	if !replaced {
		regs = append(regs, reg)
	}
	r.adapters[key] = regs
	r.log = append(r.log, reg)
	r.lookups.Flush()
	return nil
}

// RegisterAdapter registers an adapter factory.
func (r *Registry) RegisterAdapter(factory Factory, required []Spec, provided *Interface, name, info string) error {
	if factory == nil {
		return fmt.Errorf("register adapter %q: factory is required", name)
	}
	return r.Register(required, provided, name, factory, info)
}

// LookupAdapter returns the value registered for the most specific match of
// required, walking each spec's resolution order.
func (r *Registry) LookupAdapter(required []Spec, provided *Interface, name string) (any, bool) {
	orders := make([][]Spec, len(required))
	for i, s := range required {
		if s == nil {
			s = Object
		}
		orders[i] = s.ResolutionOrder()
	}
	return r.lookupOrders(orders, provided, name)
}

// LookupAll returns every value registered for exactly the given specs and
// provided interface, keyed by name.
func (r *Registry) LookupAll(required []Spec, provided *Interface) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any)
	for _, reg := range r.adapters[requiredKey(required)] {
		if reg.Provided.IsOrExtends(provided) {
			out[reg.Name] = reg.Value
		}
	}
	return out
}

// Registered returns the value registered for exactly required, provided
// and name, without walking resolution orders.
func (r *Registry) Registered(required []Spec, provided *Interface, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.adapters[requiredKey(required)]
	for i := len(regs) - 1; i >= 0; i-- {
		if regs[i].Provided == provided && regs[i].Name == name {
			return regs[i].Value, true
		}
	}
	return nil, false
}

// LookupOrders is LookupAdapter for callers that already computed the
// resolution order of each required position, e.g. with ProvidedBy.
func (r *Registry) LookupOrders(orders [][]Spec, provided *Interface, name string) (any, bool) {
	return r.lookupOrders(orders, provided, name)
}

func (r *Registry) lookupOrders(orders [][]Spec, provided *Interface, name string) (any, bool) {
	cacheKey := orderKey(orders) + "#" + provided.DiscriminatorKey() + "#" + name
	if v, ok := r.lookups.Get(cacheKey); ok {
		hit := v.(lookupResult)
		return hit.value, hit.found
	}

	// Cache while holding the read lock so a concurrent registration cannot
	// flush between the walk and the store.
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, found := r.walk(orders, 0, make([]Spec, len(orders)), provided, name)
	r.lookups.Set(cacheKey, lookupResult{value: value, found: found}, cache.NoExpiration)
	return value, found
}

type lookupResult struct {
	value any
	found bool
}

func orderKey(orders [][]Spec) string {
	parts := make([]string, len(orders))
	for i, ro := range orders {
		keys := make([]string, len(ro))
		for j, s := range ro {
			keys[j] = s.DiscriminatorKey()
		}
		parts[i] = strings.Join(keys, ",")
	}
	return strings.Join(parts, "|")
}

// walk tries every combination of specs, earlier positions varying slowest,
// so the first required object dominates specificity.
func (r *Registry) walk(orders [][]Spec, pos int, combo []Spec, provided *Interface, name string) (any, bool) {
	if pos == len(orders) {
		regs := r.adapters[requiredKey(combo)]
		for i := len(regs) - 1; i >= 0; i-- {
			reg := regs[i]
			if reg.Name == name && reg.Provided.IsOrExtends(provided) {
				return reg.Value, true
			}
		}
		return nil, false
	}
	for _, s := range orders[pos] {
		combo[pos] = s
		if v, ok := r.walk(orders, pos+1, combo, provided, name); ok {
			return v, true
		}
	}
	return nil, false
}

// QueryAdapter adapts objects to provided using the registered factory.
func (r *Registry) QueryAdapter(objects []any, provided *Interface, name string) (any, bool, error) {
	orders := make([][]Spec, len(objects))
	for i, o := range objects {
		orders[i] = ProvidedBy(o)
	}
	v, ok := r.lookupOrders(orders, provided, name)
	if !ok {
		return nil, false, nil
	}
	factory, isFactory := v.(Factory)
	if !isFactory {
		return nil, false, fmt.Errorf("query adapter %s/%q: registered value %T is not a factory", provided, name, v)
	}
	adapted, err := factory(objects...)
	if err != nil {
		return nil, false, err
	}
	if adapted == nil {
		return nil, false, nil
	}
	return adapted, true, nil
}

// RegisterUtility registers component as the utility providing provided
// under name. When factory is set, the component is created by calling it.
func (r *Registry) RegisterUtility(component any, provided *Interface, name, info string, factory Factory) error {
	if factory != nil {
		c, err := factory()
		if err != nil {
			return fmt.Errorf("create utility %s/%q: %w", provided, name, err)
		}
		component = c
	}
	if provided == nil {
		return fmt.Errorf("register utility %q: provided interface is required", name)
	}

	reg := Registration{
		Kind:     KindUtility,
		Provided: provided,
		Name:     name,
		Value:    component,
		Info:     info,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.utilities[provided]
	if byName == nil {
		byName = make(map[string]Registration)
		r.utilities[provided] = byName
	}
	byName[name] = reg
	r.log = append(r.log, reg)
	r.lookups.Flush()
	return nil
}

// QueryUtility returns the utility providing provided under name.
func (r *Registry) QueryUtility(provided *Interface, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.utilities[provided][name]
	if !ok {
		return nil, false
	}
	return reg.Value, true
}

// UtilitiesFor returns all utilities providing provided, keyed by name.
func (r *Registry) UtilitiesFor(provided *Interface) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.utilities[provided]))
	for name, reg := range r.utilities[provided] {
		out[name] = reg.Value
	}
	return out
}

// RegisterHandler subscribes handler to events whose objects provide
// required, position by position.
func (r *Registry) RegisterHandler(handler Handler, required []Spec, info string) error {
	if handler == nil {
		return fmt.Errorf("register handler: handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = append(r.subscribers, subscription{required: required, handler: handler, info: info})
	r.log = append(r.log, Registration{Kind: KindHandler, Required: required, Value: handler, Info: info})
	return nil
}

// RegisterSubscriptionAdapter registers a subscriber factory producing
// provided for objects providing required.
func (r *Registry) RegisterSubscriptionAdapter(factory Factory, required []Spec, provided *Interface, info string) error {
	if factory == nil {
		return fmt.Errorf("register subscription adapter: factory is required")
	}
	if provided == nil {
		return fmt.Errorf("register subscription adapter: provided interface is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = append(r.subscribers, subscription{required: required, provided: provided, factory: factory, info: info})
	r.log = append(r.log, Registration{Kind: KindSubscription, Required: required, Provided: provided, Value: factory, Info: info})
	return nil
}

func (s subscription) matches(objects []any) bool {
	if len(s.required) != len(objects) {
		return false
	}
	for i, spec := range s.required {
		if !Provides(objects[i], spec) {
			return false
		}
	}
	return true
}

func (r *Registry) matching(objects []any) []subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []subscription
	for _, s := range r.subscribers {
		if s.matches(objects) {
			out = append(out, s)
		}
	}
	return out
}

// Notify calls every handler subscribed to objects, in registration order.
// The first handler error stops notification.
func (r *Registry) Notify(objects ...any) error {
	for _, s := range r.matching(objects) {
		if s.handler == nil {
			continue
		}
		if err := s.handler(objects...); err != nil {
			return err
		}
	}
	return nil
}

// Subscribers returns the non-nil results of every subscription adapter
// matching objects and providing provided.
func (r *Registry) Subscribers(objects []any, provided *Interface) ([]any, error) {
	var out []any
	for _, s := range r.matching(objects) {
		if s.factory == nil || !s.provided.IsOrExtends(provided) {
			continue
		}
		v, err := s.factory(objects...)
		if err != nil {
			return out, err
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// Registrations returns every registration in the order it was made.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, len(r.log))
	copy(out, r.log)
	return out
}
