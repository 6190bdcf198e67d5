package ws

// Router holds the broadcast group of every room and fans frames out to it.
// It is owned by the hub goroutine; the hub guards it with its mutex for
// readers on other goroutines.
type Router struct {
	groups map[string]map[*Client]struct{}
}

func NewRouter() *Router {
	return &Router{
		groups: make(map[string]map[*Client]struct{}),
	}
}

// Join adds c to roomID's group. It reports whether c was newly added.
func (r *Router) Join(roomID string, c *Client) bool {
	group, ok := r.groups[roomID]
	if !ok {
		group = make(map[*Client]struct{})
		r.groups[roomID] = group
	}
	if _, ok := group[c]; ok {
		return false
	}
	group[c] = struct{}{}
	return true
}

// Leave removes c from roomID's group and drops the group once empty.
func (r *Router) Leave(roomID string, c *Client) bool {
	group, ok := r.groups[roomID]
	if !ok {
		return false
	}
	if _, ok := group[c]; !ok {
		return false
	}
	delete(group, c)
	if len(group) == 0 {
		delete(r.groups, roomID)
	}
	return true
}

// Members returns the size of roomID's group.
func (r *Router) Members(roomID string) int {
	return len(r.groups[roomID])
}

// Rooms returns the member count of every non-empty group.
func (r *Router) Rooms() map[string]int {
	out := make(map[string]int, len(r.groups))
	for id, group := range r.groups {
		out[id] = len(group)
	}
	return out
}

// Broadcast enqueues frame for every member of roomID except the given
// client, which may be nil to reach everyone. Members whose send buffer is
// full are returned in slow and receive nothing.
func (r *Router) Broadcast(roomID string, except *Client, frame []byte) (delivered int, slow []*Client) {
	for c := range r.groups[roomID] {
		if c == except {
			continue
		}
		if trySend(c, frame) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}
	return delivered, slow
}

func trySend(c *Client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
