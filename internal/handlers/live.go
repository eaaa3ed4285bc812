package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/metrics"
	"github.com/vcmarket/apiserver/internal/modal"
	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/internal/session"
	"github.com/vcmarket/apiserver/types"
)

const (
	liveWriteWait      = 10 * time.Second
	livePongWait       = 60 * time.Second
	livePingPeriod     = (livePongWait * 9) / 10
	liveMaxMessageSize = 4096
	liveSendBuffer     = 32
)

// Frame types exchanged on the live socket.
const (
	frameSearch     = "search"
	frameCategory   = "category"
	frameSort       = "sort"
	framePage       = "page"
	frameOpen       = "open"
	frameEdit       = "edit"
	frameDirty      = "dirty"
	frameSaved      = "saved"
	frameClose      = "close"
	frameRoster     = "roster"
	frameView       = "view"
	frameFeatured   = "featured"
	frameCategories = "categories"
	frameModal      = "modal"
	frameAuth       = "auth"
	frameError      = "error"
)

// LiveFrame is one server-to-client message.
type LiveFrame struct {
	Type       string               `json:"type"`
	View       *catalog.View        `json:"view,omitempty"`
	Query      *catalog.BrowseState `json:"query,omitempty"`
	Items      []types.Item         `json:"items,omitempty"`
	Categories []string             `json:"categories,omitempty"`
	Users      []types.User         `json:"users,omitempty"`
	Modal      *modal.State         `json:"modal,omitempty"`
	Item       *types.Item          `json:"item,omitempty"`
	State      string               `json:"state,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Message    string               `json:"message,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// LiveHub serves the live catalog socket. Each connection gets its own
// debounced Browser over the shared mirror and its own detail dialog state.
type LiveHub struct {
	catalog  *catalog.Store
	registry *session.Registry
	debounce time.Duration
	pageSize int
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

func NewLiveHub(cat *catalog.Store, registry *session.Registry, debounce time.Duration, pageSize int, logger *zap.Logger) *LiveHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHub{
		catalog:  cat,
		registry: registry,
		debounce: debounce,
		pageSize: pageSize,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[*liveClient]struct{}{},
	}
}

type liveClient struct {
	hub    *LiveHub
	conn   *websocket.Conn
	send   chan []byte
	ctrl   *session.Controller
	modal  modal.Machine
	logger *zap.Logger

	browser *catalog.Browser

	mu       sync.Mutex
	closed   bool
	cleanups []func()
	roster   func()
}

// ServeHTTP upgrades the request. A token may be passed as a bearer header
// or, for browsers, as ?token=.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ctrl *session.Controller
	token, err := bearerToken(r)
	if err != nil {
		token = r.URL.Query().Get("token")
	}
	if token != "" {
		ctrl, err = h.registry.Resolve(r.Context(), token)
		if err != nil {
			writeSessionError(w, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("live upgrade failed", zap.Error(err))
		return
	}

	c := &liveClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, liveSendBuffer),
		ctrl:   ctrl,
		logger: h.logger.With(zap.String("remote", clientIP(r))),
	}
	c.browser = catalog.NewBrowser(h.catalog, h.debounce, h.pageSize, func(v catalog.View) {
		st := c.browser.State()
		c.push(LiveFrame{Type: frameView, View: &v, Query: &st})
	})

	h.register(c)
	done := metrics.LiveClientConnected()
	defer done()

	go c.writePump()
	c.start()
	c.readPump()
}

func (h *LiveHub) register(c *liveClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *LiveHub) unregister(c *liveClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *LiveHub) snapshot() []*liveClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*liveClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// CloseIfShowing closes every open detail dialog showing itemID and returns
// how many it closed.
func (h *LiveHub) CloseIfShowing(itemID string) int {
	n := 0
	for _, c := range h.snapshot() {
		if c.modal.CloseIfShowing(itemID) {
			n++
			c.pushModal()
		}
	}
	return n
}

// Len reports the number of connected clients.
func (h *LiveHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *LiveHub) Close() {
	for _, c := range h.snapshot() {
		c.close()
	}
}

var _ services.ViewCloser = (*LiveHub)(nil)

// start sends the initial state and wires change notifications.
func (c *liveClient) start() {
	c.push(LiveFrame{Type: frameCategories, Categories: c.hub.catalog.Categories()})
	c.push(LiveFrame{Type: frameFeatured, Items: c.hub.catalog.Featured()})
	c.browser.Refresh()

	c.addCleanup(c.hub.catalog.OnChange(c.onCatalogChange))
	if c.ctrl != nil {
		c.addCleanup(c.ctrl.OnAuthStateChange(c.onAuthEvent))
	}
}

func (c *liveClient) addCleanup(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		fn()
		return
	}
	c.cleanups = append(c.cleanups, fn)
}

func (c *liveClient) onCatalogChange(col catalog.Collection) {
	switch col {
	case catalog.CollectionItems:
		c.browser.Refresh()
		c.push(LiveFrame{Type: frameFeatured, Items: c.hub.catalog.Featured()})
	case catalog.CollectionCategories:
		c.push(LiveFrame{Type: frameCategories, Categories: c.hub.catalog.Categories()})
	case catalog.CollectionRoster:
		c.mu.Lock()
		watching := c.roster != nil
		c.mu.Unlock()
		if watching {
			c.push(LiveFrame{Type: frameRoster, Users: c.hub.catalog.Roster()})
		}
	}
}

func (c *liveClient) onAuthEvent(ev session.Event) {
	switch ev.State {
	case session.Banned:
		c.modal.Close(true)
		c.pushModal()
		c.push(LiveFrame{Type: frameAuth, State: ev.State.String(), Reason: ev.Reason, Message: session.Message(session.ErrBanned)})
	case session.SignedOut:
		c.releaseRoster()
		c.push(LiveFrame{Type: frameAuth, State: ev.State.String(), Reason: ev.Reason})
	}
}

func (c *liveClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(liveMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("live read failed", zap.Error(err))
			}
			return
		}
		c.handle(msg)
	}
}

func (c *liveClient) handle(msg []byte) {
	if !gjson.ValidBytes(msg) {
		c.push(LiveFrame{Type: frameError, Error: "invalid message"})
		return
	}
	frame := gjson.ParseBytes(msg)
	switch frame.Get("type").String() {
	case frameSearch:
		c.browser.SetSearch(frame.Get("value").String())
	case frameCategory:
		c.browser.SetCategory(frame.Get("value").String())
	case frameSort:
		c.browser.SetSort(catalog.ParseSort(frame.Get("value").String()))
	case framePage:
		page := int(frame.Get("value").Int())
		if page < 1 {
			c.push(LiveFrame{Type: frameError, Error: "invalid page"})
			return
		}
		c.browser.SetPage(page)
	case frameOpen:
		c.reportModal(c.modal.Open(frame.Get("itemId").String()))
	case frameEdit:
		c.reportModal(c.modal.StartEdit())
	case frameDirty:
		c.modal.MarkDirty()
		c.pushModal()
	case frameSaved:
		c.modal.Saved()
		c.pushModal()
	case frameClose:
		c.reportModal(c.modal.Close(frame.Get("discard").Bool()))
	case frameRoster:
		c.watchRoster(frame.Get("value").Bool())
	default:
		c.push(LiveFrame{Type: frameError, Error: "unknown message type"})
	}
}

func (c *liveClient) reportModal(err error) {
	switch {
	case errors.Is(err, modal.ErrUnsavedChanges):
		c.push(LiveFrame{Type: frameError, Error: "You have unsaved changes. Are you sure you want to close?"})
	case err != nil:
		c.push(LiveFrame{Type: frameError, Error: err.Error()})
	}
	c.pushModal()
}

func (c *liveClient) pushModal() {
	st := c.modal.State()
	f := LiveFrame{Type: frameModal, Modal: &st}
	if st.ItemID != "" {
		if it, ok := c.hub.catalog.Item(st.ItemID); ok {
			f.Item = &it
		}
	}
	c.push(f)
}

func (c *liveClient) watchRoster(on bool) {
	if !on {
		c.releaseRoster()
		return
	}
	c.mu.Lock()
	watching := c.roster != nil
	c.mu.Unlock()
	if watching {
		return
	}
	var actor *types.User
	if c.ctrl != nil {
		actor = c.ctrl.Actor()
	}
	ctx, cancel := context.WithTimeout(context.Background(), liveWriteWait)
	defer cancel()
	release, err := c.hub.catalog.WatchRoster(ctx, actor)
	if err != nil {
		c.push(LiveFrame{Type: frameError, Error: services.Message(services.ErrPermissionDenied)})
		return
	}
	c.mu.Lock()
	if c.closed || c.roster != nil {
		c.mu.Unlock()
		release()
		return
	}
	c.roster = release
	c.mu.Unlock()
	c.push(LiveFrame{Type: frameRoster, Users: c.hub.catalog.Roster()})
}

func (c *liveClient) releaseRoster() {
	c.mu.Lock()
	release := c.roster
	c.roster = nil
	c.mu.Unlock()
	if release != nil {
		release()
	}
}

// push queues f. A client too slow to drain its buffer is disconnected.
func (c *liveClient) push(f LiveFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Warn("encode live frame failed", zap.String("type", f.Type), zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Info("dropping slow live client")
		go c.close()
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close releases every resource the client holds. It is safe to call more
// than once.
func (c *liveClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cleanups := c.cleanups
	c.cleanups = nil
	release := c.roster
	c.roster = nil
	close(c.send)
	c.mu.Unlock()

	c.browser.Close()
	for _, fn := range cleanups {
		fn()
	}
	if release != nil {
		release()
	}
	c.hub.unregister(c)
	_ = c.conn.Close()
}
