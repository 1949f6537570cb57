package liveserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.GetSendChan():
		return msg
	case <-time.After(time.Second):
		t.Fatal("client did not receive message")
		return Message{}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub, _ := runHub(t)

	client := NewClient("c1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, client.Send(NewMessage(TypeSignal, nil)))
}

func TestHub_BroadcastRespectsFilters(t *testing.T) {
	hub, _ := runHub(t)

	all := NewClient("all")
	positions := NewClient("positions", TypePosition)
	hub.Register(all)
	hub.Register(positions)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewMessage(TypeSignal, map[string]string{"id": "s1"}))
	hub.Broadcast(NewMessage(TypePosition, map[string]string{"id": "p1"}))

	assert.Equal(t, TypeSignal, receive(t, all).Type)
	assert.Equal(t, TypePosition, receive(t, all).Type)

	got := receive(t, positions)
	assert.Equal(t, TypePosition, got.Type)
	assert.Equal(t, map[string]string{"id": "p1"}, got.Data)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, cancel := runHub(t)

	client := NewClient("c1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// Late registrations do not block
	late := NewClient("late")
	hub.Register(late)
	hub.Unregister(late)
	assert.False(t, late.Send(NewMessage(TypeSignal, nil)))
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub, _ := runHub(t)

	slow := NewClient("slow")
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 600; i++ {
		hub.Broadcast(NewMessage(TypeSignal, fmt.Sprintf("msg-%d", i)))
		if i%50 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_SendWhenClosed(t *testing.T) {
	client := NewClient("c1")
	assert.True(t, client.Send(NewMessage(TypeSignal, "x")))
	client.Close()
	client.Close()
	assert.False(t, client.Send(NewMessage(TypeSignal, "y")))
}

func TestChannel(t *testing.T) {
	assert.Equal(t, TypeRouting, Channel("routing.decided"))
	assert.Equal(t, TypePosition, Channel("position.close_failed"))
	assert.Equal(t, "custom", Channel("custom"))
}
