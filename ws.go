package main

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const clientCookieName = "mobrule_id"

// Client is one websocket connection. The playerID is the stable
// identity behind it; the room maps identities to clients and back.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID PlayerID
}

// clientIdentity resolves the caller's stable identity: an explicit
// client_id query parameter wins (phone clients that manage their own),
// then the identity cookie, otherwise a fresh one is minted and set.
func clientIdentity(w http.ResponseWriter, r *http.Request) PlayerID {
	if id := strings.TrimSpace(r.URL.Query().Get("client_id")); id != "" {
		return PlayerID(id)
	}

	if c, err := r.Cookie(clientCookieName); err == nil && c.Value != "" {
		return PlayerID(c.Value)
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return PlayerID(id)
}

// serveNewRoom creates a room owned by the caller's identity and
// redirects to it.
func serveNewRoom(cfg *Config, path string, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hostID := clientIdentity(w, r)
		if hostID == "" {
			http.Error(w, "unable to assign client identity", http.StatusInternalServerError)
			return
		}

		room := reg.CreateRoom(hostID)

		http.Redirect(w, r, cfg.prefix+path+"/"+room.code, http.StatusTemporaryRedirect)
	}
}

func serveRoomPage(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		room, ok := reg.Lookup(ps.ByName("code"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Not Found", "That room does not exist.")))
			return
		}

		_ = clientIdentity(w, r)

		_, _ = w.Write([]byte(newPage("mobrule", "Room "+room.code)))
	}
}

// serveRoomWS upgrades the connection and binds it to the room's
// presence tracker for the caller's identity.
func serveRoomWS(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := reg.Lookup(ps.ByName("code"))
		if !ok {
			http.Error(w, errRoomNotFound, http.StatusNotFound)
			return
		}

		id := clientIdentity(w, r)
		if id == "" {
			http.Error(w, errClientIDRequired, http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: id,
		}

		room.attach(client)

		go client.writePump()
		client.readPump(room)
	}
}

// readPump validates each inbound frame at the boundary and hands the
// resulting command to the room loop. Error replies also travel through
// the loop, so every write to a client's send channel is serialized.
func (c *Client) readPump(room *Room) {
	defer func() {
		room.detach(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		cmd, errMsg := parseCommand(msg)
		if errMsg != nil {
			room.submit(request{client: c, cmd: errorReplyCmd{msg: errMsg}})
			continue
		}
		if cmd == nil {
			continue
		}

		room.submit(request{client: c, cmd: cmd})
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveRoomQR renders a PNG QR code pointing at a live room's page so
// phones can scan in instead of typing the code. Unknown codes 404 the
// same way the page and socket routes do.
func serveRoomQR(cfg *Config, path string, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := reg.Lookup(ps.ByName("code"))
		if !ok {
			http.Error(w, errRoomNotFound, http.StatusNotFound)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + path + "/" + room.code

		png, err := qrcode.Encode(url, qrcode.Medium, 320)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerMafiaGame sets up routes so that:
//   - $path             → creates a new room and redirects to it
//   - $path/:code       → HTML client
//   - $path/:code/ws    → WebSocket for that room
//   - $path/:code/qr    → PNG QR code for that room URL
func registerMafiaGame(cfg *Config, path string, mux *httprouter.Router, reg *Registry) {
	mux.GET(cfg.prefix+path, serveNewRoom(cfg, path, reg))

	mux.GET(cfg.prefix+path+"/:code", serveRoomPage(cfg, reg))

	mux.GET(cfg.prefix+path+"/:code/ws", serveRoomWS(cfg, reg))

	mux.GET(cfg.prefix+path+"/:code/qr", serveRoomQR(cfg, path, reg))
}
