// loom-seqd is the sequencer daemon: it assigns the server total order to
// submitted changes and broadcasts sequenced commits to every connected
// client. Changesets are carried as opaque JSON, so the daemon works for
// any change family.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/loomkit/loom"
)

const usage = `loom-seqd - sequencer daemon for loom documents.

Usage:
    loom-seqd [--listen=<addr>] [--v=<level>]
    loom-seqd -h | --help

Options:
    --listen=<addr>  Listen address [default: :8080].
    --v=<level>      Log verbosity [default: 1].
    -h --help        Show this screen.`

// hubClient is one websocket subscriber.
type hubClient struct {
	conn *websocket.Conn
	send chan loom.CommitMessage
}

// hub fans sequenced commits out to every subscriber.
type hub struct {
	clients    map[*hubClient]bool
	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan loom.CommitMessage
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*hubClient]bool),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan loom.CommitMessage),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			glog.V(1).Infof("client registered, total %d", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				glog.V(1).Infof("client unregistered, total %d", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

type server struct {
	seq      *loom.Sequencer[json.RawMessage]
	hub      *hub
	upgrader websocket.Upgrader
}

func toWire(c loom.Commit[json.RawMessage]) loom.CommitMessage {
	return loom.CommitMessage{
		Session: c.Session,
		Seq:     c.Seq,
		Ref:     c.Ref,
		Change:  c.Change,
	}
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("upgrade failed: %v", err)
		return
	}

	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	}

	client := &hubClient{conn: conn, send: make(chan loom.CommitMessage, 256)}
	s.hub.register <- client

	// Backlog before live broadcasts; a commit sequenced in between is
	// replayed by the broadcast path and deduped client-side by seq.
	for _, c := range s.seq.Since(loom.SeqNumber(since)) {
		if err := conn.WriteJSON(toWire(c)); err != nil {
			s.hub.unregister <- client
			conn.Close()
			return
		}
	}

	go client.writePump()
	client.readPump(s)
}

func (c *hubClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *hubClient) readPump(s *server) {
	defer func() {
		s.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		var msg loom.SubmitMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		commit, err := s.seq.Sequence(msg.Session, msg.Ref, msg.Change)
		if err != nil {
			glog.V(1).Infof("rejected submission from %q: %v", msg.Session, err)
			continue
		}
		glog.V(2).Infof("sequenced seq %d from %q (ref %d)", commit.Seq, commit.Session, commit.Ref)
		s.hub.broadcast <- toWire(commit)
	}
}

func (s *server) handleTrunk(w http.ResponseWriter, r *http.Request) {
	commits := s.seq.Since(0)
	out := make([]loom.CommitMessage, len(commits))
	for i, c := range commits {
		out[i] = toWire(c)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		os.Exit(2)
	}
	listen, _ := opts.String("--listen")
	verbosity, _ := opts.String("--v")
	flag.CommandLine.Parse(nil)
	flag.Set("logtostderr", "true")
	flag.Set("v", verbosity)

	s := &server{
		seq: loom.NewSequencer[json.RawMessage](),
		hub: newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	go s.hub.run()

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/v1/trunk", s.handleTrunk).Methods(http.MethodGet)

	glog.V(1).Infof("loom-seqd listening on %s", listen)
	if err := http.ListenAndServe(listen, r); err != nil {
		glog.Exitf("listen failed: %v", err)
	}
}
