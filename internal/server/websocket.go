// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/pkg/datasets"
)

// Message types pushed to WebSocket clients.
const (
	MsgInit        = "init"
	MsgJobUpdate   = "job_update"
	MsgRecordEvent = "record_event"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	clientQueue = 256
	maxInbound  = 4 << 10
)

// WSMessage is one frame sent to a client. DatasetID routes the frame
// through each client's subscription.
type WSMessage struct {
	Type      string `json:"type"`
	DatasetID string `json:"datasetId,omitempty"`
	Data      any    `json:"data"`
}

// RecordEvent is a progress event of a running job.
type RecordEvent struct {
	JobID string `json:"jobId"`
	datasets.ProgressEvent
}

type initState struct {
	Jobs    []*Job `json:"jobs"`
	Version string `json:"version"`
}

// subscribeRequest is the only frame clients send. It replaces the set of
// followed datasets; an empty list follows all of them.
type subscribeRequest struct {
	Datasets []string `json:"datasets"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	datasets map[string]bool // nil follows every dataset
}

func newWSClient(conn *websocket.Conn, ids []string) *wsClient {
	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}
	c.follow(ids)
	return c
}

func (c *wsClient) follow(ids []string) {
	var set map[string]bool
	for _, id := range ids {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		if set == nil {
			set = make(map[string]bool)
		}
		set[id] = true
	}
	c.mu.Lock()
	c.datasets = set
	c.mu.Unlock()
}

// follows reports whether frames about datasetID reach the client. Frames
// without a dataset reach everyone.
func (c *wsClient) follows(datasetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.datasets == nil || datasetID == "" || c.datasets[datasetID]
}

// WSHub fans job updates and record events out to subscribed clients.
type WSHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *zap.Logger
}

// NewWSHub creates an empty hub.
func NewWSHub(log *zap.Logger) *WSHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		log:     log.Named("ws"),
	}
}

// attach queues first for c and then registers it, so nothing published
// concurrently can overtake first.
func (h *WSHub) attach(c *wsClient, first []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if first != nil {
		c.send <- first
	}
	h.clients[c] = struct{}{}
	h.log.Debug("client connected", zap.Int("clients", len(h.clients)))
}

func (h *WSHub) detach(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Debug("client disconnected", zap.Int("clients", len(h.clients)))
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish encodes msg once and queues it for every client following its
// dataset. A client whose queue is full is disconnected.
func (h *WSHub) Publish(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("marshal message failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.follows(msg.DatasetID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Debug("client too slow, disconnecting", zap.String("type", msg.Type))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// PublishJob sends a job snapshot.
func (h *WSHub) PublishJob(job *Job) {
	h.Publish(WSMessage{Type: MsgJobUpdate, DatasetID: job.DatasetID, Data: job})
}

// PublishRecord sends one progress event of a job.
func (h *WSHub) PublishRecord(jobID, datasetID string, ev datasets.ProgressEvent) {
	h.Publish(WSMessage{
		Type:      MsgRecordEvent,
		DatasetID: datasetID,
		Data:      RecordEvent{JobID: jobID, ProgressEvent: ev},
	})
}

// handleWebSocket upgrades the connection. Repeated ?dataset= parameters
// limit the stream to those datasets; clients can change the set later by
// sending {"datasets": [...]}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newWSClient(conn, r.URL.Query()["dataset"])
	first, err := json.Marshal(WSMessage{Type: MsgInit, Data: s.initState(c)})
	if err != nil {
		s.log.Warn("marshal init failed", zap.Error(err))
		conn.Close()
		return
	}
	s.wsHub.attach(c, first)

	go c.writePump()
	go c.readPump(s.wsHub)
}

func (s *Server) initState(c *wsClient) initState {
	st := initState{Jobs: []*Job{}, Version: s.config.Version}
	for _, job := range s.jobs.ListJobs() {
		if c.follows(job.DatasetID) {
			st.Jobs = append(st.Jobs, job)
		}
	}
	return st
}

// writePump sends one frame per queued message and keeps the connection
// alive with pings. It owns all writes to conn.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump applies subscription changes until the connection drops.
func (c *wsClient) readPump(h *WSHub) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("read error", zap.Error(err))
			}
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		c.follow(req.Datasets)
	}
}
