package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/logger"
)

// Conn is the slice of a WebSocket connection the registry needs. The
// gateway's connection type satisfies it.
type Conn interface {
	// SendJSON queues v for delivery. An error marks the connection
	// dead; the registry drops it.
	SendJSON(v interface{}) error
}

// Registry tracks which local connections watch which project. One
// connection may watch several projects.
type Registry struct {
	logger *logger.Logger

	mu       sync.RWMutex
	rooms    map[string]map[Conn]struct{}
	projects map[Conn]map[string]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		logger:   log.Named("registry"),
		rooms:    make(map[string]map[Conn]struct{}),
		projects: make(map[Conn]map[string]struct{}),
	}
}

// Connect subscribes conn to a project room.
func (r *Registry) Connect(conn Conn, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[projectID] == nil {
		r.rooms[projectID] = make(map[Conn]struct{})
	}
	r.rooms[projectID][conn] = struct{}{}

	if r.projects[conn] == nil {
		r.projects[conn] = make(map[string]struct{})
	}
	r.projects[conn][projectID] = struct{}{}
}

// Unsubscribe removes conn from one project room.
func (r *Registry) Unsubscribe(conn Conn, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn, projectID)
}

// Disconnect removes conn from every room.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for projectID := range r.projects[conn] {
		r.removeLocked(conn, projectID)
	}
	delete(r.projects, conn)
}

func (r *Registry) removeLocked(conn Conn, projectID string) {
	if room := r.rooms[projectID]; room != nil {
		delete(room, conn)
		if len(room) == 0 {
			delete(r.rooms, projectID)
		}
	}
	if set := r.projects[conn]; set != nil {
		delete(set, projectID)
	}
}

// SendToLocalConnections writes message to every socket in the project
// room. A failed send drops that connection; the broadcast itself
// never fails. Returns the number of successful deliveries.
func (r *Registry) SendToLocalConnections(projectID string, message interface{}) int {
	r.mu.RLock()
	room := r.rooms[projectID]
	conns := make([]Conn, 0, len(room))
	for c := range room {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sent := 0
	var dead []Conn
	for _, c := range conns {
		if err := c.SendJSON(message); err != nil {
			r.logger.Debug("dropping dead connection",
				zap.String("project_id", projectID), zap.Error(err))
			dead = append(dead, c)
			continue
		}
		sent++
	}
	for _, c := range dead {
		r.Disconnect(c)
	}
	return sent
}

// ConnectionCount returns how many sockets watch a project.
func (r *Registry) ConnectionCount(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[projectID])
}
