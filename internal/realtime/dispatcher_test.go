package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhaul/realtime/internal/model"
)

func newDispatcherFixture(t *testing.T) (*Registry, *RoomIndex, *Dispatcher) {
	t.Helper()
	rooms := NewRoomIndex()
	registry := NewRegistry(rooms)
	return registry, rooms, NewDispatcher(registry, rooms, zapNop())
}

func TestDispatcherToRoom(t *testing.T) {
	registry, rooms, d := newDispatcherFixture(t)

	a := &fakeSink{}
	b := &fakeSink{}
	outside := &fakeSink{}
	connA := registry.Register(model.Identity{UserID: "a"}, a)
	connB := registry.Register(model.Identity{UserID: "b"}, b)
	registry.Register(model.Identity{UserID: "c"}, outside)

	room := ChatRoom("job-1")
	rooms.Join(connA, room)
	rooms.Join(connB, room)

	d.ToRoom(room, EventNewMessage, map[string]string{"body": "hi"})

	assert.Equal(t, 1, a.countOf(t, EventNewMessage))
	assert.Equal(t, 1, b.countOf(t, EventNewMessage))
	assert.Empty(t, outside.frames)
}

func TestDispatcherToRoomExcept(t *testing.T) {
	registry, rooms, d := newDispatcherFixture(t)

	a := &fakeSink{}
	b := &fakeSink{}
	connA := registry.Register(model.Identity{UserID: "a"}, a)
	connB := registry.Register(model.Identity{UserID: "b"}, b)

	room := ChatRoom("job-1")
	rooms.Join(connA, room)
	rooms.Join(connB, room)

	d.ToRoomExcept(room, connA, EventTyping, nil)

	assert.Empty(t, a.frames)
	assert.Equal(t, 1, b.countOf(t, EventTyping))
}

func TestDispatcherToUserAndAdmins(t *testing.T) {
	registry, _, d := newDispatcherFixture(t)

	// same user on two devices, plus one admin
	u1 := &fakeSink{}
	u2 := &fakeSink{}
	adm := &fakeSink{}
	registry.Register(model.Identity{UserID: "u", Role: model.RoleCustomer}, u1)
	registry.Register(model.Identity{UserID: "u", Role: model.RoleCustomer}, u2)
	registry.Register(model.Identity{UserID: "boss", Role: model.RoleAdmin}, adm)

	d.ToUser("u", EventBidPlaced, nil)
	assert.Equal(t, 1, u1.countOf(t, EventBidPlaced))
	assert.Equal(t, 1, u2.countOf(t, EventBidPlaced))
	assert.Empty(t, adm.frames)

	// no live connection: dropped silently
	d.ToUser("ghost", EventBidPlaced, nil)

	d.ToAdmins(EventJobUpdate, nil)
	assert.Equal(t, 1, adm.countOf(t, EventJobUpdate))
	assert.Equal(t, 0, u1.countOf(t, EventJobUpdate))
}

func TestDispatcherFIFOPerConnection(t *testing.T) {
	registry, rooms, d := newDispatcherFixture(t)

	sink := &fakeSink{}
	connID := registry.Register(model.Identity{UserID: "u"}, sink)
	room := ChatRoom("job-1")
	rooms.Join(connID, room)

	for i := 0; i < 10; i++ {
		d.ToRoom(room, EventNewMessage, map[string]int{"seq": i})
	}

	evs := sink.received(t)
	require.Len(t, evs, 10)
	for i, ev := range evs {
		var data map[string]int
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, i, data["seq"])
	}
}

func TestDispatcherToDispatchArea(t *testing.T) {
	registry, rooms, d := newDispatcherFixture(t)

	driver := &fakeSink{}
	tooTight := &fakeSink{}
	elsewhere := &fakeSink{}
	c1 := registry.Register(model.Identity{UserID: "d1", Role: model.RoleDriver}, driver)
	c2 := registry.Register(model.Identity{UserID: "d2", Role: model.RoleDriver}, tooTight)
	c3 := registry.Register(model.Identity{UserID: "d3", Role: model.RoleDriver}, elsewhere)

	rooms.Join(c1, LocationGroup(40.7, -74.0, 50))
	rooms.Join(c2, LocationGroup(40.7, -74.0, 1))
	rooms.Join(c3, LocationGroup(34.05, -118.2, 50))

	n := d.ToDispatchArea(40.7, -74.0, EventNewJob, map[string]string{"job_id": "j9"})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, driver.countOf(t, EventNewJob))
	assert.Equal(t, 0, tooTight.countOf(t, EventNewJob))
	assert.Equal(t, 0, elsewhere.countOf(t, EventNewJob))
}
