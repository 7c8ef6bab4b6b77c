package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"opsatlas/internal/logging"
)

// streamClient represents one connected job stream observer
type streamClient struct {
	JobID    string
	Messages chan string
}

// Hub fans job stream frames out to the observers of each job. It is the
// server-side counterpart of the jobstream consumer and implements
// runner.Emitter.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*streamClient]bool // jobID -> observers
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*streamClient]bool)}
}

// Register adds an observer for a job
func (h *Hub) Register(jobID string, client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[jobID] == nil {
		h.clients[jobID] = make(map[*streamClient]bool)
	}
	h.clients[jobID][client] = true
}

// Unregister removes an observer
func (h *Hub) Unregister(jobID string, client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[jobID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, jobID)
		}
	}
}

// Publish sends one frame to every observer of a job. Implements the
// runner's Emitter interface.
func (h *Hub) Publish(jobID, event string, payload interface{}) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to marshal %s frame for job %s: %v", event, jobID, err)
		return
	}
	frame := FormatFrame(event, string(jsonData))
	logging.Debug("Publishing %s frame for job %s", event, jobID)

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients[jobID]))
	for client := range h.clients[jobID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var unresponsive []*streamClient
	for _, client := range clients {
		select {
		case client.Messages <- frame:
		case <-time.After(500 * time.Millisecond):
			logging.Warning("Stream observer for job %s is not receiving, marking for cleanup", jobID)
			unresponsive = append(unresponsive, client)
		}
	}

	for _, client := range unresponsive {
		h.Unregister(jobID, client)
	}
}

// FormatFrame renders one SSE frame
func FormatFrame(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

// IsDoneFrame reports whether a formatted frame terminates a job stream
func IsDoneFrame(frame string) bool {
	return strings.HasPrefix(frame, "event: done\n")
}
