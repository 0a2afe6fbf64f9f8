package realtime

import (
	"go.uber.org/zap"
)

// Dispatcher fans an event out to a room, a single user's channel, or the
// admin channel. It snapshots the member set, then delivers outside the room
// lock; each member's sink is a buffered channel, so delivery is at-most-once
// per connection and FIFO per connection in call order.
type Dispatcher struct {
	registry *Registry
	rooms    *RoomIndex
	log      *zap.Logger
}

func NewDispatcher(registry *Registry, rooms *RoomIndex, log *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, rooms: rooms, log: log}
}

// ToRoom delivers to every current member of the room.
func (d *Dispatcher) ToRoom(key RoomKey, event string, data any) {
	d.deliver(d.rooms.MembersOf(key), "", event, data)
}

// ToRoomExcept delivers to every current member except one connection,
// typically the originator of the event.
func (d *Dispatcher) ToRoomExcept(key RoomKey, exceptConnID, event string, data any) {
	d.deliver(d.rooms.MembersOf(key), exceptConnID, event, data)
}

// ToUser delivers to all of the user's live connections. With none live the
// event is dropped; queueing for offline users belongs to the notification
// pipeline.
func (d *Dispatcher) ToUser(userID, event string, data any) {
	d.deliver(d.rooms.MembersOf(UserChannel(userID)), "", event, data)
}

// ToAdmins delivers to every connected admin.
func (d *Dispatcher) ToAdmins(event string, data any) {
	d.deliver(d.rooms.MembersOf(AdminChannel()), "", event, data)
}

// ToDispatchArea delivers to every live location group covering the
// coordinate. Returns the number of groups targeted. Used by the job intake
// side to announce new jobs to subscribed drivers.
func (d *Dispatcher) ToDispatchArea(lat, lng float64, event string, data any) int {
	groups := d.rooms.DispatchGroups(lat, lng)
	for _, key := range groups {
		d.ToRoom(key, event, data)
	}
	return len(groups)
}

// ToConn delivers to a single connection.
func (d *Dispatcher) ToConn(connID, event string, data any) {
	d.deliver([]string{connID}, "", event, data)
}

func (d *Dispatcher) deliver(members []string, except, event string, data any) {
	if len(members) == 0 {
		return
	}
	frame, err := encode(event, data)
	if err != nil {
		d.log.Error("encode outbound event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, connID := range members {
		if connID == except {
			continue
		}
		if sink, ok := d.registry.SinkFor(connID); ok {
			sink.Send(frame)
		}
	}
}
