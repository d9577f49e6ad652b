package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// Event types
const (
	EventTableUpdate   = "table_update"
	EventSessionUpdate = "session_update"
	EventFloorLayout   = "floor_layout"
)

const writeWait = 5 * time.Second

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type client struct {
	role     string
	branchID string
}

// FloorHub holds the dashboards connected over websocket and pushes every
// committed floor change to the ones watching the same branch.
type FloorHub struct {
	clients map[*websocket.Conn]client
	mutex   sync.Mutex
}

func NewFloorHub() *FloorHub {
	return &FloorHub{clients: make(map[*websocket.Conn]client)}
}

// RegisterClient adds a connection. An empty branchID receives every branch.
func (h *FloorHub) RegisterClient(conn *websocket.Conn, role, branchID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = client{role: role, branchID: branchID}
	utils.InfoLogger.Printf("Floor client connected: role=%s branch=%s total=%d", role, branchID, len(h.clients))
}

func (h *FloorHub) UnregisterClient(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *FloorHub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Notify implements services.Notifier.
func (h *FloorHub) Notify(_ context.Context, event models.FloorEvent) error {
	name := EventTableUpdate
	switch event.Operation.Type {
	case models.OpSessionStart, models.OpSessionEnd:
		name = EventSessionUpdate
	case models.OpTableMerge, models.OpTableSplit:
		name = EventFloorLayout
	}
	return h.Broadcast(event.Operation.BranchID, Message{Event: name, Data: event})
}

// Broadcast sends msg to every client of branchID. Clients that fail to
// receive are dropped.
func (h *FloorHub) Broadcast(branchID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for conn, cl := range h.clients {
		if cl.branchID != "" && cl.branchID != branchID {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			utils.ErrorLogger.Printf("Error sending to floor client (role %s): %v", cl.role, err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
	return nil
}
