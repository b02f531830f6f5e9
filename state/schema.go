package state

import "github.com/stategraph-go/stategraph/errors"

// Channel declares one named slot in the shared state together with its
// merge policy and optional default value.
type Channel struct {
	Name    string
	Reducer Reducer
	Default interface{}
}

// Schema is the closed set of channels a graph's state may contain. It is
// fixed at compile time; every state key must name a declared channel or a
// reserved engine key. The declaration order is preserved and used wherever
// a deterministic channel iteration is needed.
type Schema struct {
	channels []Channel
	index    map[string]int
}

// Channels returns the declared channels in declaration order.
func (s *Schema) Channels() []Channel {
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Channel returns the declaration for name.
func (s *Schema) Channel(name string) (Channel, bool) {
	if s == nil {
		return Channel{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Channel{}, false
	}
	return s.channels[i], true
}

// Has reports whether name is a declared channel.
func (s *Schema) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[name]
	return ok
}

// InitialState builds a fresh state holding each channel's default value.
// Channels without a default stay absent until first written.
func (s *Schema) InitialState() State {
	st := New()
	if s == nil {
		return st
	}
	for _, ch := range s.channels {
		if ch.Default != nil {
			st[ch.Name] = cloneValue(ch.Default)
		}
	}
	return st
}

// ApplyUpdate merges value into st under key using the channel's reducer.
// Reserved engine keys bypass declaration and overwrite. Writing an
// undeclared key returns an InvalidUpdateError.
func (s *Schema) ApplyUpdate(st State, key string, value interface{}) error {
	if IsReservedKey(key) {
		st[key] = value
		return nil
	}
	ch, ok := s.Channel(key)
	if !ok {
		return &errors.InvalidUpdateError{Key: key}
	}
	st[key] = ch.Reducer.Apply(st[key], value)
	return nil
}

// ApplyUpdates merges a node's delta map into st. Keys are applied in
// channel declaration order, reserved keys last, so the merge result never
// depends on map iteration order.
func (s *Schema) ApplyUpdates(st State, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if s != nil {
		for _, ch := range s.channels {
			if value, ok := updates[ch.Name]; ok {
				st[ch.Name] = ch.Reducer.Apply(st[ch.Name], value)
			}
		}
	}
	for key, value := range updates {
		if s.Has(key) {
			continue
		}
		if !IsReservedKey(key) {
			return &errors.InvalidUpdateError{Key: key}
		}
		st[key] = value
	}
	return nil
}

// SchemaBuilder accumulates channel declarations. Fluent methods configure
// the most recently added channel.
type SchemaBuilder struct {
	channels []Channel
	index    map[string]int
}

// NewSchema starts an empty schema declaration.
func NewSchema() *SchemaBuilder {
	return &SchemaBuilder{index: make(map[string]int)}
}

// WithChannels builds a schema of overwrite channels in one call, the
// shorthand for graphs that only need last-write-wins slots.
func WithChannels(names ...string) *Schema {
	b := NewSchema()
	for _, name := range names {
		b.AddChannel(name)
	}
	return b.Build()
}

// AddChannel declares a channel with overwrite semantics.
func (b *SchemaBuilder) AddChannel(name string) *SchemaBuilder {
	if i, ok := b.index[name]; ok {
		b.channels[i] = Channel{Name: name, Reducer: Overwrite()}
		return b
	}
	b.index[name] = len(b.channels)
	b.channels = append(b.channels, Channel{Name: name, Reducer: Overwrite()})
	return b
}

// AddListChannel declares a channel with append semantics.
func (b *SchemaBuilder) AddListChannel(name string) *SchemaBuilder {
	return b.AddChannel(name).WithReducer(Append())
}

// AddCounterChannel declares a channel with sum semantics.
func (b *SchemaBuilder) AddCounterChannel(name string) *SchemaBuilder {
	return b.AddChannel(name).WithReducer(Sum())
}

// WithReducer sets the merge policy of the channel declared last.
func (b *SchemaBuilder) WithReducer(r Reducer) *SchemaBuilder {
	if len(b.channels) > 0 {
		b.channels[len(b.channels)-1].Reducer = r
	}
	return b
}

// WithDefault sets the default value of the channel declared last.
func (b *SchemaBuilder) WithDefault(v interface{}) *SchemaBuilder {
	if len(b.channels) > 0 {
		b.channels[len(b.channels)-1].Default = v
	}
	return b
}

// Build finalizes the declaration into an immutable schema.
func (b *SchemaBuilder) Build() *Schema {
	channels := make([]Channel, len(b.channels))
	copy(channels, b.channels)
	index := make(map[string]int, len(channels))
	for i, ch := range channels {
		index[ch.Name] = i
	}
	return &Schema{channels: channels, index: index}
}
