package keepui

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// messageId 0 is reserved for "no reply expected"
const noReplyMessageId = uint64(0)

// Message is one frame on the worker channel. Requests carry a name.
// Replies carry the request's messageId and no name.
type Message struct {
	MessageId uint64          `json:"messageId"`
	Name      string          `json:"name,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// MessagePort is a full-duplex message channel to a background worker.
type MessagePort interface {
	Send(message *Message) error
	Receive() <-chan *Message
}

// ChannelPort is an in-process MessagePort pair.
type ChannelPort struct {
	send    chan<- *Message
	receive <-chan *Message
}

// NewChannelPortPair returns two connected ports, one for each side of the
// worker boundary.
func NewChannelPortPair(bufferSize int) (*ChannelPort, *ChannelPort) {
	aToB := make(chan *Message, bufferSize)
	bToA := make(chan *Message, bufferSize)
	a := &ChannelPort{
		send:    aToB,
		receive: bToA,
	}
	b := &ChannelPort{
		send:    bToA,
		receive: aToB,
	}
	return a, b
}

func (self *ChannelPort) Send(message *Message) error {
	self.send <- message
	return nil
}

func (self *ChannelPort) Receive() <-chan *Message {
	return self.receive
}

// HandlerFunction serves one incoming request. When the request expects a
// reply it must call reply exactly once. Calling reply on a no-reply request
// is a no-op.
type HandlerFunction func(payload json.RawMessage, reply func(payload any))

type ReplyFunction func(payload json.RawMessage)

type ProtocolErrorFunction func(err error)

// MessageRouter multiplexes request/reply frames over a MessagePort.
// All dispatch happens on one run goroutine, in channel receive order.
type MessageRouter struct {
	ctx    context.Context
	cancel context.CancelFunc

	port MessagePort

	mutex         sync.Mutex
	nextMessageId uint64
	handlers      map[string]HandlerFunction
	pending       map[uint64]ReplyFunction

	protocolErrorCallbacks *CallbackList[ProtocolErrorFunction]
}

func NewMessageRouter(ctx context.Context, port MessagePort) *MessageRouter {
	cancelCtx, cancel := context.WithCancel(ctx)

	router := &MessageRouter{
		ctx:                    cancelCtx,
		cancel:                 cancel,
		port:                   port,
		nextMessageId:          1,
		handlers:               map[string]HandlerFunction{},
		pending:                map[uint64]ReplyFunction{},
		protocolErrorCallbacks: NewCallbackList[ProtocolErrorFunction](),
	}
	go router.run()
	return router
}

func (self *MessageRouter) AddProtocolErrorCallback(callback ProtocolErrorFunction) func() {
	return self.protocolErrorCallbacks.Add(callback)
}

// RegisterHandler routes incoming requests with this name to the handler.
func (self *MessageRouter) RegisterHandler(name string, handler HandlerFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.handlers[name] = handler
}

// SendRequest sends a named request. A nil callback sends messageId 0,
// which tells the other side no reply is expected.
func (self *MessageRouter) SendRequest(name string, payload any, callback ReplyFunction) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	messageId := noReplyMessageId
	if callback != nil {
		self.mutex.Lock()
		messageId = self.nextMessageId
		self.nextMessageId += 1
		self.pending[messageId] = callback
		self.mutex.Unlock()
	}

	message := &Message{
		MessageId: messageId,
		Name:      name,
		Message:   payloadBytes,
	}
	if err := self.port.Send(message); err != nil {
		if messageId != noReplyMessageId {
			self.mutex.Lock()
			delete(self.pending, messageId)
			self.mutex.Unlock()
		}
		return err
	}
	return nil
}

// Dispatch routes one incoming message:
// a named message to its registered handler, an unnamed message to the
// pending reply callback under its messageId.
func (self *MessageRouter) Dispatch(message *Message) error {
	if message.Name != "" {
		self.mutex.Lock()
		handler, ok := self.handlers[message.Name]
		self.mutex.Unlock()
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMessageKind, message.Name)
		}

		messageId := message.MessageId
		replied := false
		reply := func(payload any) {
			if messageId == noReplyMessageId {
				return
			}
			if replied {
				glog.Infof("[mr]double reply to %d dropped\n", messageId)
				return
			}
			replied = true
			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				glog.Infof("[mr]reply marshal error = %s\n", err)
				return
			}
			self.port.Send(&Message{
				MessageId: messageId,
				Message:   payloadBytes,
			})
		}
		handler(message.Message, reply)
		return nil
	}

	self.mutex.Lock()
	callback, ok := self.pending[message.MessageId]
	if ok {
		delete(self.pending, message.MessageId)
	}
	self.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: messageId %d", ErrOrphanReply, message.MessageId)
	}
	callback(message.Message)
	return nil
}

func (self *MessageRouter) Close() {
	self.cancel()
}

func (self *MessageRouter) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case message, ok := <-self.port.Receive():
			if !ok {
				return
			}
			if err := self.Dispatch(message); err != nil {
				glog.Infof("[mr]dispatch error = %s\n", err)
				for _, callback := range self.protocolErrorCallbacks.Get() {
					callback(err)
				}
			}
		}
	}
}
