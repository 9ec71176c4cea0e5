package keepui

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func waitReply(t *testing.T, replies chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case payload := <-replies:
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reply")
		return nil
	}
}

func waitProtocolError(t *testing.T, errs chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for protocol error")
		return nil
	}
}

type echoRequest struct {
	Value string `json:"value"`
}

type echoReply struct {
	Value string `json:"value"`
}

func TestMessageRouterRequestReply(t *testing.T) {
	uiPort, workerPort := NewChannelPortPair(8)

	ui := NewMessageRouter(context.Background(), uiPort)
	defer ui.Close()
	worker := NewMessageRouter(context.Background(), workerPort)
	defer worker.Close()

	worker.RegisterHandler("echo", func(payload json.RawMessage, reply func(payload any)) {
		request := &echoRequest{}
		err := json.Unmarshal(payload, request)
		assert.Equal(t, err, nil)
		reply(&echoReply{Value: request.Value})
	})

	replies := make(chan json.RawMessage, 1)
	err := ui.SendRequest("echo", &echoRequest{Value: "hello"}, func(payload json.RawMessage) {
		replies <- payload
	})
	assert.Equal(t, err, nil)

	reply := &echoReply{}
	err = json.Unmarshal(waitReply(t, replies), reply)
	assert.Equal(t, err, nil)
	assert.Equal(t, "hello", reply.Value)
}

func TestMessageRouterCorrelation(t *testing.T) {
	uiPort, workerPort := NewChannelPortPair(8)

	ui := NewMessageRouter(context.Background(), uiPort)
	defer ui.Close()
	worker := NewMessageRouter(context.Background(), workerPort)
	defer worker.Close()

	worker.RegisterHandler("echo", func(payload json.RawMessage, reply func(payload any)) {
		request := &echoRequest{}
		json.Unmarshal(payload, request)
		reply(&echoReply{Value: request.Value})
	})

	// interleaved requests route each reply back to its own callback
	replies1 := make(chan json.RawMessage, 1)
	replies2 := make(chan json.RawMessage, 1)
	ui.SendRequest("echo", &echoRequest{Value: "one"}, func(payload json.RawMessage) {
		replies1 <- payload
	})
	ui.SendRequest("echo", &echoRequest{Value: "two"}, func(payload json.RawMessage) {
		replies2 <- payload
	})

	reply1 := &echoReply{}
	json.Unmarshal(waitReply(t, replies1), reply1)
	assert.Equal(t, "one", reply1.Value)

	reply2 := &echoReply{}
	json.Unmarshal(waitReply(t, replies2), reply2)
	assert.Equal(t, "two", reply2.Value)
}

func TestMessageRouterNoReplyRequest(t *testing.T) {
	uiPort, workerPort := NewChannelPortPair(8)

	ui := NewMessageRouter(context.Background(), uiPort)
	defer ui.Close()
	worker := NewMessageRouter(context.Background(), workerPort)
	defer worker.Close()

	uiErrors := make(chan error, 8)
	ui.AddProtocolErrorCallback(func(err error) {
		uiErrors <- err
	})

	received := make(chan struct{}, 1)
	worker.RegisterHandler("notify", func(payload json.RawMessage, reply func(payload any)) {
		// replying to a fire-and-forget request must not send a frame
		reply("ignored")
		received <- struct{}{}
	})

	err := ui.SendRequest("notify", &echoRequest{Value: "x"}, nil)
	assert.Equal(t, err, nil)

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	// no stray reply frame arrives back at the ui side
	select {
	case err := <-uiErrors:
		t.Fatalf("unexpected protocol error: %s", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMessageRouterUnknownKind(t *testing.T) {
	uiPort, workerPort := NewChannelPortPair(8)

	ui := NewMessageRouter(context.Background(), uiPort)
	defer ui.Close()
	worker := NewMessageRouter(context.Background(), workerPort)
	defer worker.Close()

	workerErrors := make(chan error, 8)
	worker.AddProtocolErrorCallback(func(err error) {
		workerErrors <- err
	})

	ui.SendRequest("no-such-kind", &echoRequest{Value: "x"}, nil)

	err := waitProtocolError(t, workerErrors)
	assert.Equal(t, true, errors.Is(err, ErrUnknownMessageKind))
}

func TestMessageRouterOrphanReply(t *testing.T) {
	uiPort, workerPort := NewChannelPortPair(8)

	ui := NewMessageRouter(context.Background(), uiPort)
	defer ui.Close()

	uiErrors := make(chan error, 8)
	ui.AddProtocolErrorCallback(func(err error) {
		uiErrors <- err
	})

	// a reply with a messageId nothing is waiting on
	workerPort.Send(&Message{
		MessageId: 999,
		Message:   json.RawMessage(`{}`),
	})

	err := waitProtocolError(t, uiErrors)
	assert.Equal(t, true, errors.Is(err, ErrOrphanReply))
}

func TestMessageRouterDoubleReplyDropped(t *testing.T) {
	uiPort, workerPort := NewChannelPortPair(8)

	ui := NewMessageRouter(context.Background(), uiPort)
	defer ui.Close()
	worker := NewMessageRouter(context.Background(), workerPort)
	defer worker.Close()

	uiErrors := make(chan error, 8)
	ui.AddProtocolErrorCallback(func(err error) {
		uiErrors <- err
	})

	worker.RegisterHandler("echo", func(payload json.RawMessage, reply func(payload any)) {
		reply(&echoReply{Value: "first"})
		reply(&echoReply{Value: "second"})
	})

	replies := make(chan json.RawMessage, 2)
	ui.SendRequest("echo", &echoRequest{Value: "x"}, func(payload json.RawMessage) {
		replies <- payload
	})

	reply := &echoReply{}
	json.Unmarshal(waitReply(t, replies), reply)
	assert.Equal(t, "first", reply.Value)

	// the second reply is suppressed at the sender, so no orphan shows up here
	select {
	case err := <-uiErrors:
		t.Fatalf("unexpected protocol error: %s", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMessageRouterDispatchErrors(t *testing.T) {
	uiPort, _ := NewChannelPortPair(8)

	router := NewMessageRouter(context.Background(), uiPort)
	defer router.Close()

	err := router.Dispatch(&Message{MessageId: 1, Name: "missing"})
	assert.Equal(t, true, errors.Is(err, ErrUnknownMessageKind))

	err = router.Dispatch(&Message{MessageId: 42})
	assert.Equal(t, true, errors.Is(err, ErrOrphanReply))
}
