// Package displaymux fans outbound display messages out to any number of
// subscribers (SSE clients, the debug tail page, tests).
package displaymux

import (
	"bytes"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/faslit/internal/contracts"
	"github.com/banshee-data/faslit/internal/timeutil"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var tailTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/display-tail.html.tmpl"))

// subscriberBuffer is how many messages a slow subscriber may lag before
// messages are dropped for it.
const subscriberBuffer = 32

// Mux is a publish/subscribe fan-out of JSON envelopes.
type Mux struct {
	clock        timeutil.Clock
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	closed       bool
	published    int
	dropped      int
}

// New creates a Mux stamping envelopes with clock.
func New(clock timeutil.Clock) *Mux {
	return &Mux{
		clock:       timeutil.OrReal(clock),
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel receiving every published envelope as a JSON
// line. The id is used to unsubscribe.
func (m *Mux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Mux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Publish wraps payload in an envelope and delivers it to every subscriber
// without blocking; subscribers whose buffer is full miss the message.
func (m *Mux) Publish(t contracts.MessageType, payload any) error {
	env, err := contracts.NewEnvelope(t, m.clock.Now(), payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	line := string(b)

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closed {
		return nil
	}
	m.published++
	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full skip so as not to block the publisher
			m.dropped++
		}
	}
	return nil
}

// Stats returns published message and dropped delivery counts.
func (m *Mux) Stats() (published, dropped, subscribers int) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	return m.published, m.dropped, len(m.subscribers)
}

// Close closes all subscriber channels. Later publishes are discarded.
func (m *Mux) Close() {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// ServeSSE streams published envelopes as Server-Sent Events until the
// client disconnects or the mux closes.
func (m *Mux) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// AttachAdminRoutes mounts a live tail of the display stream under /debug/.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("display-tail", "live tail of display messages", func(w http.ResponseWriter, r *http.Request) {
		published, dropped, subs := m.Stats()
		buf := bytes.NewBuffer(nil)
		err := tailTemplate.Execute(buf, map[string]int{
			"Published":   published,
			"Dropped":     dropped,
			"Subscribers": subs,
		})
		if err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("display-tail-stream", m.ServeSSE)
}
