package control

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/errors"
)

type switchable struct {
	mu      sync.Mutex
	on      bool
	toggles int
}

func (s *switchable) TurnOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = true
	s.toggles++
	return nil
}

func (s *switchable) TurnOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = false
	s.toggles++
	return nil
}

var switchInterface = Interface[*switchable]{
	Name: "Switch",
	Operations: map[string]func(*switchable) error{
		"on":  (*switchable).TurnOn,
		"off": (*switchable).TurnOff,
		"fail": func(*switchable) error {
			return fmt.Errorf("refused")
		},
		"explode": func(*switchable) error {
			panic("boom")
		},
	},
}

func TestRegistry_RegisterDistinctIDs(t *testing.T) {
	r := NewRegistry(nil)

	id1, err := Register(r, "t", "1", "", switchInterface, &switchable{})
	require.NoError(t, err)
	id2, err := Register(r, "t", "2", "", switchInterface, &switchable{})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, "t:1", id1)
	assert.Equal(t, "t:2", id2)
	assert.Equal(t, []string{"t:1", "t:2"}, r.IDs())
}

func TestRegistry_AliasTakesPrecedence(t *testing.T) {
	r := NewRegistry(nil)

	id, err := Register(r, "periodic", "OP_3", "sampler", switchInterface, &switchable{})
	require.NoError(t, err)
	assert.Equal(t, "periodic:sampler", id)

	obj, ok := r.Lookup("periodic", "sampler")
	require.True(t, ok)
	assert.IsType(t, &switchable{}, obj)

	_, ok = r.Lookup("periodic", "OP_3")
	assert.False(t, ok)
}

func TestRegistry_DuplicateDoesNotMutate(t *testing.T) {
	r := NewRegistry(nil)
	first := &switchable{}
	second := &switchable{}

	_, err := Register(r, "t", "1", "a", switchInterface, first)
	require.NoError(t, err)

	_, err = Register(r, "t", "2", "a", switchInterface, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateRegistration)
	assert.True(t, errors.IsRegistration(err))

	obj, ok := r.Lookup("t", "a")
	require.True(t, ok)
	assert.Same(t, first, obj)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)
	id, err := Register(r, "t", "1", "", switchInterface, &switchable{})
	require.NoError(t, err)

	require.NoError(t, r.Unregister(id))

	err = r.Unregister(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	err = r.Unregister("never:registered")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil)

	_, err := Register(r, "", "1", "", switchInterface, &switchable{})
	assert.True(t, errors.IsInvalid(err))

	_, err = Register(r, "t", "", "", switchInterface, &switchable{})
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_ColonInTypeRejected(t *testing.T) {
	r := NewRegistry(nil)

	id, err := Register(r, "a", "", "b:c", switchInterface, &switchable{})
	require.NoError(t, err)
	assert.Equal(t, "a:b:c", id)

	// would otherwise derive the same id as ("a", "b:c")
	_, err = Register(r, "a:b", "", "c", switchInterface, &switchable{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.False(t, errors.IsRegistration(err))
	assert.Len(t, r.IDs(), 1)
}

func TestRegistry_Handle(t *testing.T) {
	r := NewRegistry(nil)
	sw := &switchable{}
	_, err := Register(r, "switch", "1", "lamp", switchInterface, sw)
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     Request
		handled bool
	}{
		{"known op", Request{Type: "switch", Alias: "lamp", Op: "on"}, true},
		{"unknown op", Request{Type: "switch", Alias: "lamp", Op: "dim"}, false},
		{"unknown alias", Request{Type: "switch", Alias: "fan", Op: "on"}, false},
		{"unknown type", Request{Type: "valve", Alias: "lamp", Op: "on"}, false},
		{"op returns error", Request{Type: "switch", Alias: "lamp", Op: "fail"}, false},
		{"op panics", Request{Type: "switch", Alias: "lamp", Op: "explode"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.handled, r.Handle(tt.req))
		})
	}
	assert.True(t, sw.on)
	assert.Equal(t, 1, sw.toggles)
}

func TestRegistry_HandleJSON(t *testing.T) {
	r := NewRegistry(nil)
	sw := &switchable{on: true}
	_, err := Register(r, "switch", "1", "", switchInterface, sw)
	require.NoError(t, err)

	assert.True(t, r.HandleJSON([]byte(`{"type":"switch","alias":"1","op":"off"}`)))
	assert.False(t, sw.on)

	assert.False(t, r.HandleJSON([]byte(`not json`)))
	assert.False(t, r.HandleJSON([]byte(`{"type":"switch","alias":"1"}`)))
}

func TestRegistry_OperationMayUnregister(t *testing.T) {
	r := NewRegistry(nil)
	var id string
	iface := Interface[*Registry]{
		Name: "SelfRemoving",
		Operations: map[string]func(*Registry) error{
			"close": func(reg *Registry) error { return reg.Unregister(id) },
		},
	}
	var err error
	id, err = Register(r, "job", "JOB_0", "", iface, r)
	require.NoError(t, err)

	assert.True(t, r.Handle(Request{Type: "job", Alias: "JOB_0", Op: "close"}))
	assert.Equal(t, 0, r.Len())

	ops, ok := r.Operations(id)
	assert.False(t, ok)
	assert.Nil(t, ops)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := Register(r, "t", fmt.Sprint(i), "", switchInterface, &switchable{})
			if err != nil {
				t.Errorf("register %d: %v", i, err)
				return
			}
			r.Handle(Request{Type: "t", Alias: fmt.Sprint(i), Op: "on"})
			if err := r.Unregister(id); err != nil {
				t.Errorf("unregister %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
