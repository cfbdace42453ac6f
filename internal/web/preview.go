package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/logic/dispatch"
)

// PreviewConsumer is the dispatcher name of the websocket preview.
const PreviewConsumer = "preview"

const writeWait = time.Second

// Registry is where the preview registers itself while clients watch.
type Registry interface {
	Register(name string, c dispatch.Consumer) error
	Unregister(name string)
}

// Preview streams preview frames to websocket clients as binary JPEG
// messages. It is registered as a frame consumer only while at least one
// client is connected.
type Preview struct {
	reg      Registry
	quality  int
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewPreview returns a preview hub encoding at quality (1-100).
func NewPreview(reg Registry, quality int) *Preview {
	return &Preview{
		reg:     reg,
		quality: quality,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Clients returns the number of connected clients.
func (p *Preview) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Preview) add(conn *websocket.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) == 0 {
		if err := p.reg.Register(PreviewConsumer, p); err != nil {
			return err
		}
	}
	p.clients[conn] = struct{}{}
	return nil
}

func (p *Preview) remove(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[conn]; !ok {
		return
	}
	delete(p.clients, conn)
	conn.Close()
	if len(p.clients) == 0 {
		p.reg.Unregister(PreviewConsumer)
	}
}

// Consume encodes f and sends it to every client. Clients that fail a
// write are dropped.
func (p *Preview) Consume(f dispatch.Frame) {
	data, err := f.JPEG(p.quality)
	if err != nil {
		debug.Trace("Preview: encode frame %d: %v", f.Seq, err)
		return
	}
	p.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(p.clients))
	for c := range p.clients {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.BinaryMessage, data); err != nil {
			debug.Verbose("Preview: client dropped: %v", err)
			p.remove(c)
		}
	}
}

// ServeHTTP upgrades the request and keeps the client until it
// disconnects.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("Preview: upgrade failed: %v", err)
		return
	}
	if err := p.add(conn); err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		conn.Close()
		return
	}
	debug.Live("Preview: client connected (%d)", p.Clients())

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	p.remove(conn)
	debug.Live("Preview: client disconnected (%d)", p.Clients())
}
