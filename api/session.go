package api

import (
	iface "PersonDetServer/interface"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"PersonDetServer/preprocess"
	"PersonDetServer/worker"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// session pins one websocket client to one engine until it goes idle.
type session struct {
	id         string
	engine     *worker.Engine
	lastActive atomic.Int64

	writeMu     sync.Mutex
	conn        *websocket.Conn
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

type allocRequest struct {
	EngineID string `json:"engineID"`
}

// allocSession binds a new session to the requested engine, or to the
// oldest engine without one.
func (s *Server) allocSession(c *gin.Context) {
	var req allocRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	inst, err := s.alloc(req.EngineID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionID": inst.id,
		"engineID":  inst.engine.ID,
		"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, inst.id),
		"timeoutMs": s.IdleTimeout.Milliseconds(),
	})
}

func (s *Server) alloc(engineID string) (*session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	busy := make(map[string]bool, len(s.sessions))
	for _, inst := range s.sessions {
		busy[inst.engine.ID] = true
	}
	var chosen *worker.Engine
	if engineID != "" {
		e, ok := s.Registry.Get(engineID)
		if !ok {
			return nil, fmt.Errorf("engine %s not found", engineID)
		}
		if busy[e.ID] {
			return nil, fmt.Errorf("engine %s is busy", engineID)
		}
		chosen = e
	} else {
		for _, e := range s.Registry.All() {
			if !busy[e.ID] {
				chosen = e
				break
			}
		}
		if chosen == nil {
			return nil, fmt.Errorf("all engines are busy")
		}
	}
	inst := &session{
		id:          uuid.New().String(),
		engine:      chosen,
		cancelTimer: make(chan struct{}),
	}
	inst.touch()
	s.sessions[inst.id] = inst
	// The clock runs from allocation, so a client that never dials still
	// gives the engine back.
	s.startIdleMonitor(inst)
	return inst, nil
}

func (s *Server) releaseSession(c *gin.Context) {
	if !s.release(c.Param("sessionID"), "released by client") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Session released"})
}

func (s *Server) release(sessionID, reason string) bool {
	s.sessionMu.Lock()
	inst, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.sessionMu.Unlock()
	if !ok {
		return false
	}
	inst.closeOnce.Do(func() {
		inst.writeMu.Lock()
		defer inst.writeMu.Unlock()
		if inst.conn != nil {
			_ = inst.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			_ = inst.conn.Close()
		}
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	logger.Log().Debug("session released", zap.String("session", sessionID), zap.String("reason", reason))
	return true
}

func (s *Server) releaseEngineSessions(engineID string) {
	s.sessionMu.RLock()
	var ids []string
	for id, inst := range s.sessions {
		if inst.engine.ID == engineID {
			ids = append(ids, id)
		}
	}
	s.sessionMu.RUnlock()
	for _, id := range ids {
		s.release(id, "engine destroyed")
	}
}

// CloseSessions releases every open session.
func (s *Server) CloseSessions() {
	s.sessionMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionMu.RUnlock()
	for _, id := range ids {
		s.release(id, "server shutting down")
	}
}

func (s *Server) startIdleMonitor(inst *session) {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idleFor() > s.IdleTimeout {
					s.release(inst.id, fmt.Sprintf("%d ms not active, released", s.IdleTimeout.Milliseconds()))
					return
				}
			}
		}
	}()
}

// serveSession answers every frame with a RetData: binary messages are raw
// tensor bytes or encoded images, text messages are base64.
func (s *Server) serveSession(c *gin.Context) {
	sessionID := c.Param("sessionID")
	s.sessionMu.RLock()
	inst, exists := s.sessions[sessionID]
	s.sessionMu.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	inst.writeMu.Lock()
	inst.conn = conn
	inst.writeMu.Unlock()
	conn.SetReadLimit(MaxFrameBytes)
	inst.touch()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			s.release(sessionID, "connection closed")
			logger.Log().Debug("websocket closed", zap.String("session", sessionID), zap.Error(err))
			return
		}
		inst.touch()
		monitor.Request(monitor.TransportWS)
		var frame []byte
		switch mt {
		case websocket.BinaryMessage:
			frame = msg
		case websocket.TextMessage:
			frame, err = preprocess.DecodeBase64(string(msg))
			if err != nil {
				_ = inst.writeJSON(iface.RetData{Success: false, Data: fmt.Sprintf("invalid image: %v", err)})
				continue
			}
		default:
			_ = inst.writeJSON(iface.RetData{Success: false, Data: "unsupported message type"})
			continue
		}
		det, err := s.Pool.Detect(c.Request.Context(), inst.engine.Backend, frame, 0)
		if err != nil {
			_ = inst.writeJSON(iface.RetData{Success: false, Data: fmt.Sprintf("inference error: %v", err)})
			continue
		}
		_ = inst.writeJSON(iface.RetData{Success: true, Data: det})
	}
}
