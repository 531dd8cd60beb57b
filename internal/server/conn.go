package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetline/engine/internal/dispatcher"
	"github.com/fleetline/engine/internal/fanout"
	"github.com/fleetline/engine/internal/ownership"
	"github.com/fleetline/engine/pkg/core"
	"github.com/fleetline/engine/pkg/streaming"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientConn binds one WebSocket to its hub subscription.
type clientConn struct {
	sub     *fanout.Subscription
	subject string

	mu         sync.Mutex
	lastNearby time.Time
}

// allowNearby enforces the per-connection nearby rate limit.
func (c *clientConn) allowNearby(now time.Time, minInterval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastNearby) < minInterval {
		return false
	}
	c.lastNearby = now
	return true
}

func (s *Server) connectPassenger(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, fanout.ClassPassenger, r.PathValue("passenger_id"))
}

func (s *Server) connectOperator(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, fanout.ClassOperator, r.PathValue("operator_id"))
}

func (s *Server) connectAdmin(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, fanout.ClassAdmin, r.PathValue("admin_id"))
}

// serveWS runs the full connection lifecycle: upgrade, authenticate,
// subscribe, operator claim, read loop, teardown.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, class fanout.Class, subject string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if !s.authenticate(conn, subject) {
		return
	}

	operatorID := ""
	if class == fanout.ClassOperator {
		operatorID = subject
	}
	sub := s.hub.Subscribe(class, operatorID)
	defer sub.Unsubscribe()

	c := &clientConn{sub: sub, subject: subject}
	s.trackConn(c)
	defer s.dropConn(c)

	if class == fanout.ClassOperator {
		vehicleID, ok := s.claimOnConnect(conn, c)
		if !ok {
			return
		}
		defer s.owners.Release(vehicleID, subject)
	}

	done := make(chan struct{})
	go s.writer(conn, sub, done)
	go s.pingLoop(conn, done)

	s.readLoop(conn, c)
	close(done)
}

// authenticate expects the first frame to be an auth envelope and
// checks its credential resolves to the path subject.
func (s *Server) authenticate(conn *websocket.Conn, subject string) bool {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout)); err != nil {
		return false
	}

	var env streaming.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		s.logger.Info("auth read failed", "error", err)
		return false
	}
	if env.Type != streaming.TypeAuth {
		s.writeError(conn, "expected auth message")
		return false
	}
	var payload streaming.AuthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.writeError(conn, "malformed auth payload")
		return false
	}

	got, err := s.auth.Authenticate(payload.Token)
	if err != nil {
		s.writeError(conn, "authentication failed")
		return false
	}
	if got != subject {
		s.writeError(conn, "credential does not match endpoint")
		return false
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	return true
}

// claimOnConnect claims the operator's rostered vehicle and acks the
// result. On a failed claim the rejection is written directly and the
// caller tears the connection down.
func (s *Server) claimOnConnect(conn *websocket.Conn, c *clientConn) (string, bool) {
	vehicleID, ok := s.roster.VehicleFor(c.subject)
	if !ok {
		s.rejectClaim(conn, streaming.ClaimStatusNotAssigned)
		return "", false
	}

	vehicle, result := s.owners.Claim(vehicleID, c.subject)
	if result != ownership.ClaimOK {
		s.rejectClaim(conn, result.String())
		return "", false
	}

	s.ack(c, streaming.TypeClaimAck, streaming.ClaimAckPayload{Status: result.String(), Vehicle: &vehicle})
	s.hub.BroadcastOperatorUpdate(vehicle)
	if s.history != nil {
		s.history.RecordVehicles([]core.Vehicle{vehicle})
	}
	return vehicleID, true
}

// rejectClaim writes the claim rejection directly on the socket. The
// writer goroutine is not running yet at this point, so the direct
// write cannot race it.
func (s *Server) rejectClaim(conn *websocket.Conn, status string) {
	env, err := streaming.NewEnvelope(streaming.TypeClaimAck, streaming.ClaimAckPayload{Status: status})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	conn.WriteJSON(env)
}

// readLoop parses inbound envelopes and routes them through the
// dispatcher. Unknown commands get an error envelope back.
func (s *Server) readLoop(conn *websocket.Conn, c *clientConn) {
	for {
		var env streaming.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		if !s.allowed(c.sub.Class, env.Type) {
			s.ack(c, streaming.TypeError, streaming.ErrorPayload{Message: "command not permitted"})
			continue
		}

		_, err := s.dispatch.Dispatch(dispatcher.Event{
			Command:   env.Type,
			Payload:   env.Payload,
			Source:    c.sub.ID,
			Timestamp: time.Now(),
		})
		if err != nil {
			s.ack(c, streaming.TypeError, streaming.ErrorPayload{Message: err.Error()})
		}
	}
}

// allowed gates commands by subscriber class.
func (s *Server) allowed(class fanout.Class, command string) bool {
	switch command {
	case streaming.TypeTelemetry:
		return class == fanout.ClassOperator
	case streaming.TypeNearbyRequest:
		return class == fanout.ClassPassenger || class == fanout.ClassAdmin
	case streaming.TypeStatsRequest:
		return class == fanout.ClassAdmin
	default:
		return false
	}
}

// writer drains the subscription channel onto the socket.
func (s *Server) writer(conn *websocket.Conn, sub *fanout.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}

// pingLoop keeps the connection alive; a missed pong trips the read
// deadline and tears the connection down.
func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// ack queues a direct response on the caller's subscription.
func (s *Server) ack(c *clientConn, msgType string, payload any) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		s.logger.Error("encoding response", "type", msgType, "error", err)
		return
	}
	s.hub.Send(c.sub, env)
}

// writeError writes one error frame directly; used before the hub
// subscription exists.
func (s *Server) writeError(conn *websocket.Conn, msg string) {
	env, err := streaming.NewEnvelope(streaming.TypeError, streaming.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	conn.WriteJSON(env)
}
