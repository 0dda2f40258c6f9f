package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusRegisterFire(t *testing.T) {
	bus := NewEventBus()
	var got []string
	first := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, "first:"+data.Shader)
		return false
	}
	second := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, "second:"+data.Shader)
		return true
	}
	third := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, "third:"+data.Shader)
		return false
	}

	assert.True(t, bus.Register(EVENT_CODE_SHADER_READY, "a", first))
	assert.True(t, bus.Register(EVENT_CODE_SHADER_READY, "b", second))
	assert.True(t, bus.Register(EVENT_CODE_SHADER_READY, "c", third))
	assert.False(t, bus.Register(EVENT_CODE_SHADER_READY, "a", first), "duplicate listener")
	assert.False(t, bus.Register(EVENT_CODE_SHADER_READY, "d", nil))

	handled := bus.Fire(EVENT_CODE_SHADER_READY, nil, EventContext{Shader: "lit"})
	assert.True(t, handled)
	assert.Equal(t, []string{"first:lit", "second:lit"}, got)

	assert.False(t, bus.Fire(EVENT_CODE_SHADER_FAILED, nil, EventContext{}))
}

func TestEventBusUnregister(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	fn := func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls++
		return false
	}
	bus.Register(EVENT_CODE_SOURCE_CHANGED, "watcher", fn)
	assert.True(t, bus.Unregister(EVENT_CODE_SOURCE_CHANGED, "watcher"))
	assert.False(t, bus.Unregister(EVENT_CODE_SOURCE_CHANGED, "watcher"))

	bus.Fire(EVENT_CODE_SOURCE_CHANGED, nil, EventContext{})
	assert.Zero(t, calls)
}

func TestNilEventBusFire(t *testing.T) {
	var bus *EventBus
	assert.False(t, bus.Fire(EVENT_CODE_SHADER_READY, nil, EventContext{}))
}
