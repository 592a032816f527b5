package tangram

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestMockClient_Connect(t *testing.T) {
	mock := NewMockClient()

	token := mock.Connect()
	if !token.WaitTimeout(1 * time.Second) {
		t.Error("Connect should complete immediately")
	}
	if token.Error() != nil {
		t.Errorf("Connect error = %v, want nil", token.Error())
	}
	if !mock.IsConnected() {
		t.Error("Client should be connected after Connect()")
	}
}

func TestMockClient_ConnectWithError(t *testing.T) {
	mock := NewMockClient()
	expectedErr := errors.New("connection failed")
	mock.SetConnectError(expectedErr)

	token := mock.Connect()
	if token.Error() != expectedErr {
		t.Errorf("Connect error = %v, want %v", token.Error(), expectedErr)
	}
	if mock.IsConnected() {
		t.Error("Client should not be connected after failed Connect()")
	}
}

func TestMockClient_Publish(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	payload := []byte(`{"test": "data"}`)
	token := mock.Publish("test/topic", 0, true, payload)

	if !token.WaitTimeout(1 * time.Second) {
		t.Error("Publish should complete immediately")
	}
	if token.Error() != nil {
		t.Errorf("Publish error = %v, want nil", token.Error())
	}

	messages := mock.GetPublishedMessages()
	if len(messages) != 1 {
		t.Fatalf("Published messages count = %d, want 1", len(messages))
	}

	msg := messages[0]
	if msg.Topic != "test/topic" {
		t.Errorf("Published topic = %s, want test/topic", msg.Topic)
	}
	if string(msg.Payload) != string(payload) {
		t.Errorf("Published payload = %s, want %s", msg.Payload, payload)
	}
	if !msg.Retain {
		t.Error("Message should be retained")
	}
}

func TestMockClient_PublishNotConnected(t *testing.T) {
	mock := NewMockClient()
	// Don't set connected

	token := mock.Publish("test/topic", 0, false, []byte("data"))
	if token.Error() == nil {
		t.Error("Publish should error when not connected")
	}
}

func TestMockClient_Subscribe(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	handlerCalled := false
	var receivedTopic string
	var receivedPayload []byte

	handler := func(client mqtt.Client, msg mqtt.Message) {
		handlerCalled = true
		receivedTopic = msg.Topic()
		receivedPayload = msg.Payload()
	}

	token := mock.Subscribe("test/topic", 0, handler)
	if token.Error() != nil {
		t.Errorf("Subscribe error = %v, want nil", token.Error())
	}

	payload := []byte(`{"id": "test"}`)
	mock.SimulateMessage("test/topic", payload)

	if !handlerCalled {
		t.Error("Message handler was not called")
	}
	if receivedTopic != "test/topic" {
		t.Errorf("Received topic = %s, want test/topic", receivedTopic)
	}
	if string(receivedPayload) != string(payload) {
		t.Errorf("Received payload = %s, want %s", receivedPayload, payload)
	}
}

func TestMockClient_SubscribeError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(errors.New("subscribe failed"))

	token := mock.Subscribe("test/topic", 0, func(mqtt.Client, mqtt.Message) {})
	if token.Error() == nil {
		t.Error("Subscribe should return the configured error")
	}
}

func TestMockClient_Unsubscribe(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	called := false
	mock.Subscribe("test/topic", 0, func(mqtt.Client, mqtt.Message) { called = true })
	mock.Unsubscribe("test/topic")

	mock.SimulateMessage("test/topic", []byte("data"))
	if called {
		t.Error("Handler should not fire after Unsubscribe")
	}
}

func TestMockClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	mock.Disconnect(250)

	if mock.IsConnected() {
		t.Error("Client should not be connected after Disconnect()")
	}
}

func TestMockClient_ConcurrentOperations(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			for j := 0; j < 50; j++ {
				topic := "test/topic"
				mock.Publish(topic, 0, false, []byte("test"))

				handler := func(client mqtt.Client, msg mqtt.Message) {}
				mock.Subscribe(topic, 0, handler)

				mock.SimulateMessage(topic, []byte("data"))
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	// No panic = success (test for race conditions)
}

func BenchmarkMockClient_Publish(b *testing.B) {
	mock := NewMockClient()
	mock.SetConnected(true)
	payload := []byte(`{"test": "data"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mock.Publish("test/topic", 0, false, payload)
	}
}

func BenchmarkMockClient_SimulateMessage(b *testing.B) {
	mock := NewMockClient()
	mock.SetConnected(true)

	mock.Subscribe("test/topic", 0, func(client mqtt.Client, msg mqtt.Message) {})
	payload := []byte(`{"test": "data"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mock.SimulateMessage("test/topic", payload)
	}
}
