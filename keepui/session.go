package keepui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ChangeKind string

const (
	ChangeInitial    ChangeKind = "initial"
	ChangeAppend     ChangeKind = "append"
	ChangeLiveUpdate ChangeKind = "live-update"
)

type ChangedFunction func(kind ChangeKind)
type FetchFailureFunction func(err error)

type SearchSessionSettings struct {
	// nominal page size per fetch
	PageSize int
	// fixed sentinel so the server computes thumbnail aspect ratios.
	// the value itself is irrelevant to the merge.
	ThumbnailSize int

	WsHandshakeTimeout time.Duration
	WsWriteTimeout     time.Duration

	EventBufferSize int
}

func DefaultSearchSessionSettings() *SearchSessionSettings {
	return &SearchSessionSettings{
		PageSize:           50,
		ThumbnailSize:      100,
		WsHandshakeTimeout: 2 * time.Second,
		WsWriteTimeout:     5 * time.Second,
		EventBufferSize:    32,
	}
}

// SearchSessionResults is an immutable snapshot of the merged state.
// Consumers must not mutate the bag.
type SearchSessionResults struct {
	Blobs       []BlobRef
	Description *DescribeResponse
}

type sessionEvent struct {
	kind   ChangeKind
	result *SearchResult
	err    error
}

// SearchSession is a standing query: a paged, lazily extended, live-updating
// result set merged into one meta bag.
//
// HTTP pages and live-update frames are two independent producers funneling
// into one sequential processor (the run loop), so merges and their `changed`
// notifications happen in receive order. The session exclusively owns its
// merged bag and its live channel.
type SearchSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	sc       *ServerConnection
	query    *SearchQuery
	settings *SearchSessionSettings

	instanceId Id

	events chan *sessionEvent

	stateMutex sync.Mutex
	blobs      []BlobRef
	seen       map[string]bool
	meta       MetaBag
	// nullable opaque token. Retained on fetch failure so the caller can retry.
	continuation  string
	pagesReceived int
	complete      bool
	fetchInFlight bool
	closed        bool

	supportsLiveUpdates bool
	socket              *websocket.Conn
	socketOpening       bool

	changedCallbacks *CallbackList[ChangedFunction]
	failureCallbacks *CallbackList[FetchFailureFunction]
}

func NewSearchSession(sc *ServerConnection, query *SearchQuery) *SearchSession {
	return NewSearchSessionWithSettings(context.Background(), sc, query, DefaultSearchSessionSettings())
}

func NewSearchSessionWithSettings(
	ctx context.Context,
	sc *ServerConnection,
	query *SearchQuery,
	settings *SearchSessionSettings,
) *SearchSession {
	cancelCtx, cancel := context.WithCancel(ctx)

	session := &SearchSession{
		ctx:              cancelCtx,
		cancel:           cancel,
		sc:               sc,
		query:            query.Clone(),
		settings:         settings,
		instanceId:       NewId(),
		events:           make(chan *sessionEvent, settings.EventBufferSize),
		seen:             map[string]bool{},
		meta:             MetaBag{},
		changedCallbacks: NewCallbackList[ChangedFunction](),
		failureCallbacks: NewCallbackList[FetchFailureFunction](),
	}
	go session.run()
	return session
}

func (self *SearchSession) InstanceId() Id {
	return self.instanceId
}

func (self *SearchSession) AddChangedCallback(callback ChangedFunction) func() {
	return self.changedCallbacks.Add(callback)
}

func (self *SearchSession) AddFetchFailureCallback(callback FetchFailureFunction) func() {
	return self.failureCallbacks.Add(callback)
}

// CurrentResults returns a snapshot of the merged state.
func (self *SearchSession) CurrentResults() *SearchSessionResults {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	return &SearchSessionResults{
		Blobs: slices.Clone(self.blobs),
		Description: &DescribeResponse{
			Meta: maps.Clone(self.meta),
		},
	}
}

func (self *SearchSession) IsComplete() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.complete
}

// SupportsLiveUpdates reports whether a notification frame has been observed
// on the live channel.
func (self *SearchSession) SupportsLiveUpdates() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.supportsLiveUpdates
}

// LoadMore requests the next page. Idempotent: calls while a fetch is in
// flight or after the final page are no-ops.
func (self *SearchSession) LoadMore() {
	self.stateMutex.Lock()
	if self.closed || self.fetchInFlight || self.complete {
		self.stateMutex.Unlock()
		return
	}
	self.fetchInFlight = true
	continuation := self.continuation
	firstPage := self.pagesReceived == 0
	self.stateMutex.Unlock()

	pageQuery := self.query.Clone()
	pageQuery.Limit = self.settings.PageSize
	pageQuery.Continue = continuation
	if pageQuery.Describe == nil {
		pageQuery.Describe = &DescribeRequest{}
	}
	pageQuery.Describe.ThumbnailSize = self.settings.ThumbnailSize

	kind := ChangeAppend
	if firstPage {
		kind = ChangeInitial
	}

	glog.V(2).Infof("[ss]%s fetch continue=%q\n", self.instanceId, continuation)
	self.sc.Search(pageQuery, NewApiCallback[*SearchResult](func(result *SearchResult, err error) {
		event := &sessionEvent{
			kind:   kind,
			result: result,
			err:    err,
		}
		select {
		case <-self.ctx.Done():
		case self.events <- event:
		}
	}))
}

// Close shuts the live channel and makes all later events inert.
func (self *SearchSession) Close() {
	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return
	}
	self.closed = true
	socket := self.socket
	self.socket = nil
	self.stateMutex.Unlock()

	self.cancel()
	if socket != nil {
		socket.Close()
	}
}

// the sequential processor. All merges and notifications happen here,
// in event receive order.
func (self *SearchSession) run() {
	defer func() {
		self.stateMutex.Lock()
		socket := self.socket
		self.socket = nil
		self.stateMutex.Unlock()
		if socket != nil {
			socket.Close()
		}
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		case event := <-self.events:
			self.processEvent(event)
		}
	}
}

func (self *SearchSession) processEvent(event *sessionEvent) {
	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return
	}

	if event.kind != ChangeLiveUpdate {
		self.fetchInFlight = false
	}

	if event.err != nil {
		// no partial merge. The continuation is retained for retry.
		self.stateMutex.Unlock()
		glog.Infof("[ss]%s fetch error = %s\n", self.instanceId, event.err)
		for _, callback := range self.failureCallbacks.Get() {
			callback(event.err)
		}
		return
	}

	switch event.kind {
	case ChangeInitial, ChangeLiveUpdate:
		// replace
		self.blobs = nil
		self.seen = map[string]bool{}
		self.meta = MetaBag{}
		self.mergeLocked(event.result)
	case ChangeAppend:
		self.mergeLocked(event.result)
	}

	if event.kind != ChangeLiveUpdate {
		self.pagesReceived += 1
		self.continuation = event.result.Continue
		self.complete = event.result.Continue == ""
	}

	needSocket := self.socket == nil && !self.socketOpening && event.kind != ChangeLiveUpdate
	if needSocket {
		self.socketOpening = true
	}
	resultCount := len(self.blobs)
	self.stateMutex.Unlock()

	glog.V(2).Infof("[ss]%s merge %s -> %d blobs\n", self.instanceId, event.kind, resultCount)
	for _, callback := range self.changedCallbacks.Get() {
		callback(event.kind)
	}

	// a fetch never blocks on the socket. They are independent.
	if needSocket {
		go self.openSocket(resultCount)
	}
}

// merge: new blobrefs concatenated preserving first-occurrence order,
// meta keys overwritten last-write-wins since later describes reflect
// fresher claim state.
func (self *SearchSession) mergeLocked(result *SearchResult) {
	for _, blob := range result.Blobs {
		key := blob.Blob.String()
		if self.seen[key] {
			continue
		}
		self.seen[key] = true
		self.blobs = append(self.blobs, blob.Blob)
	}
	if result.Description != nil {
		for key, meta := range result.Description.Meta {
			self.meta[key] = meta
		}
	}
}

// live-update channel url: scheme http->ws / https->wss on the search root,
// plus camli/search/ws and the discovery auth token.
func (self *SearchSession) socketUrl() (string, error) {
	searchRoot := self.sc.Config().SearchRoot
	u, err := url.Parse(strings.TrimSuffix(searchRoot, "/") + "/camli/search/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("search root is not absolute: %q", searchRoot)
	}
	if token := self.sc.Config().WsAuthToken; token != "" {
		values := u.Query()
		values.Set("authtoken", token)
		u.RawQuery = values.Encode()
	}
	return u.String(), nil
}

type wsQueryFrame struct {
	Tag   string       `json:"tag"`
	Query *SearchQuery `json:"query"`
}

type wsResultFrame struct {
	Tag    string        `json:"tag,omitempty"`
	Result *SearchResult `json:"result,omitempty"`
}

// open the live channel and pump reply frames into the event queue.
// open failure degrades the session to poll-only. A later successful fetch
// attempts a new socket.
func (self *SearchSession) openSocket(resultCount int) {
	socketUrl, err := self.socketUrl()
	if err != nil {
		glog.Infof("[ws]%s no live channel = %s\n", self.instanceId, err)
		self.socketFailed()
		return
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, socketUrl, nil)
	if err != nil {
		glog.Infof("[ws]%s dial error = %s\n", self.instanceId, err)
		self.socketFailed()
		return
	}

	// the standing query payload carries the current result count as offset
	// so the server diffs from where the pages left off
	wsQuery := self.query.Clone()
	wsQuery.Limit = self.settings.PageSize
	wsQuery.Offset = resultCount
	if wsQuery.Describe == nil {
		wsQuery.Describe = &DescribeRequest{}
	}
	wsQuery.Describe.ThumbnailSize = self.settings.ThumbnailSize

	openFrame := &wsQueryFrame{
		Tag:   fmt.Sprintf("q%s", self.instanceId),
		Query: wsQuery,
	}
	ws.SetWriteDeadline(time.Now().Add(self.settings.WsWriteTimeout))
	if err := ws.WriteJSON(openFrame); err != nil {
		glog.Infof("[ws]%s open frame error = %s\n", self.instanceId, err)
		ws.Close()
		self.socketFailed()
		return
	}

	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		ws.Close()
		return
	}
	self.socket = ws
	self.socketOpening = false
	self.stateMutex.Unlock()

	go self.readSocket(ws)
}

func (self *SearchSession) socketFailed() {
	self.stateMutex.Lock()
	self.socketOpening = false
	self.stateMutex.Unlock()
}

func (self *SearchSession) readSocket(ws *websocket.Conn) {
	defer func() {
		ws.Close()
		self.stateMutex.Lock()
		if self.socket == ws {
			// reopened on the next successful fetch
			self.socket = nil
		}
		self.stateMutex.Unlock()
	}()

	// the very first reply frame is a synthetic acknowledgment
	discardedAck := false

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[ws]%s closed = %s\n", self.instanceId, err)
			return
		}

		self.stateMutex.Lock()
		if self.closed {
			self.stateMutex.Unlock()
			return
		}
		self.supportsLiveUpdates = true
		self.stateMutex.Unlock()

		if !discardedAck {
			discardedAck = true
			glog.V(2).Infof("[ws]%s ack\n", self.instanceId)
			continue
		}

		frame := &wsResultFrame{}
		if err := json.Unmarshal(message, frame); err != nil || frame.Result == nil {
			// logged and dropped. The session stays valid.
			glog.Infof("[ws]%s bad frame dropped\n", self.instanceId)
			continue
		}

		event := &sessionEvent{
			kind:   ChangeLiveUpdate,
			result: frame.Result,
		}
		select {
		case <-self.ctx.Done():
			return
		case self.events <- event:
		}
	}
}
