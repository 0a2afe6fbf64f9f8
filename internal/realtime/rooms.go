package realtime

import (
	"fmt"
	"math"
	"sync"
)

// RoomKind discriminates the four broadcast group flavors.
type RoomKind uint8

const (
	KindChat RoomKind = iota
	KindLocationGroup
	KindUserChannel
	KindAdminChannel
)

// RoomKey identifies one broadcast group. It is a comparable value type so it
// can key the index maps directly.
type RoomKey struct {
	Kind      RoomKind
	JobID     string
	UserID    string
	LatBucket int
	LngBucket int
	Radius    float64
}

// ChatRoom is the per-job chat room.
func ChatRoom(jobID string) RoomKey {
	return RoomKey{Kind: KindChat, JobID: jobID}
}

// LocationGroup quantizes a coordinate to integer-degree buckets and pairs it
// with the subscriber's radius. Two drivers at the same rounded coordinate and
// radius share a group.
func LocationGroup(lat, lng, radius float64) RoomKey {
	return RoomKey{
		Kind:      KindLocationGroup,
		LatBucket: int(math.Round(lat)),
		LngBucket: int(math.Round(lng)),
		Radius:    radius,
	}
}

// UserChannel is the implicit one-per-user room for private delivery.
func UserChannel(userID string) RoomKey {
	return RoomKey{Kind: KindUserChannel, UserID: userID}
}

// AdminChannel holds every connection with an admin-capable role.
func AdminChannel() RoomKey {
	return RoomKey{Kind: KindAdminChannel}
}

func (k RoomKey) String() string {
	switch k.Kind {
	case KindChat:
		return "chat:" + k.JobID
	case KindLocationGroup:
		return fmt.Sprintf("dispatch:%d:%d:%g", k.LatBucket, k.LngBucket, k.Radius)
	case KindUserChannel:
		return "user:" + k.UserID
	default:
		return "admins"
	}
}

// RoomIndex maintains both directions of the membership relation:
// room -> member connections and connection -> joined rooms. Every mutation
// updates the two maps under one lock so they can never disagree, and room
// entries are dropped the moment their member set empties.
type RoomIndex struct {
	mu      sync.RWMutex
	members map[RoomKey]map[string]struct{}
	byConn  map[string]map[RoomKey]struct{}
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		members: make(map[RoomKey]map[string]struct{}),
		byConn:  make(map[string]map[RoomKey]struct{}),
	}
}

// Join adds the connection to the room, creating the room entry on first
// join. Joining a room twice is a no-op.
func (ri *RoomIndex) Join(connID string, key RoomKey) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if _, ok := ri.members[key]; !ok {
		ri.members[key] = make(map[string]struct{})
	}
	ri.members[key][connID] = struct{}{}
	if _, ok := ri.byConn[connID]; !ok {
		ri.byConn[connID] = make(map[RoomKey]struct{})
	}
	ri.byConn[connID][key] = struct{}{}
}

// Leave removes the connection from the room and drops the room entry when
// the member set empties. Leaving a room the connection is not in is a no-op.
func (ri *RoomIndex) Leave(connID string, key RoomKey) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.leaveLocked(connID, key)
}

func (ri *RoomIndex) leaveLocked(connID string, key RoomKey) {
	if set, ok := ri.members[key]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(ri.members, key)
		}
	}
	if rooms, ok := ri.byConn[connID]; ok {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(ri.byConn, connID)
		}
	}
}

// LeaveAll removes the connection from every room in one sweep and returns
// the rooms it was in, so the caller can emit departure notices.
func (ri *RoomIndex) LeaveAll(connID string) []RoomKey {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	rooms := ri.byConn[connID]
	if len(rooms) == 0 {
		delete(ri.byConn, connID)
		return nil
	}
	left := make([]RoomKey, 0, len(rooms))
	for key := range rooms {
		left = append(left, key)
		ri.leaveLocked(connID, key)
	}
	return left
}

// Contains reports whether the connection is a member of the room.
func (ri *RoomIndex) Contains(connID string, key RoomKey) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	_, ok := ri.members[key][connID]
	return ok
}

// MembersOf snapshots the room's member set. Callers deliver against the
// snapshot outside the lock; members joining after the snapshot are not
// guaranteed that delivery.
func (ri *RoomIndex) MembersOf(key RoomKey) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	set, ok := ri.members[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// DispatchGroups returns every live location group whose bucket matches the
// job's rounded coordinate and whose radius reaches the job from the bucket
// center. Coarse pre-filter: a driver one bucket over is missed even when in
// radius, which is the accepted approximation for dispatch.
func (ri *RoomIndex) DispatchGroups(lat, lng float64) []RoomKey {
	latBucket := int(math.Round(lat))
	lngBucket := int(math.Round(lng))

	ri.mu.RLock()
	defer ri.mu.RUnlock()
	var out []RoomKey
	for key := range ri.members {
		if key.Kind != KindLocationGroup || key.LatBucket != latBucket || key.LngBucket != lngBucket {
			continue
		}
		if haversineKm(float64(key.LatBucket), float64(key.LngBucket), lat, lng) <= key.Radius {
			out = append(out, key)
		}
	}
	return out
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
