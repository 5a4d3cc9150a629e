package game

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewHub(t *testing.T) {
	hub := NewHub([]byte("secret"))

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub([]byte("secret"))
	if count := hub.ClientCount(); count != 0 {
		t.Errorf("ClientCount() = %v, want 0", count)
	}
}

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHub_VerifyToken(t *testing.T) {
	secret := []byte("top-secret")
	hub := NewHub(secret)

	t.Run("accepts a validly signed token", func(t *testing.T) {
		token := signToken(t, secret, "user-42")
		userID, ok := hub.verifyToken(token)
		if !ok {
			t.Fatal("expected token to verify")
		}
		if userID != "user-42" {
			t.Fatalf("userID = %q, want user-42", userID)
		}
	})

	t.Run("rejects a token signed with the wrong secret", func(t *testing.T) {
		token := signToken(t, []byte("wrong-secret"), "user-42")
		_, ok := hub.verifyToken(token)
		if ok {
			t.Fatal("expected token to be rejected")
		}
	})

	t.Run("rejects an empty token", func(t *testing.T) {
		_, ok := hub.verifyToken("")
		if ok {
			t.Fatal("expected empty token to be rejected")
		}
	})

	t.Run("rejects every token when the hub has no secret", func(t *testing.T) {
		noSecretHub := NewHub(nil)
		token := signToken(t, secret, "user-42")
		_, ok := noSecretHub.verifyToken(token)
		if ok {
			t.Fatal("expected a hub with no secret to reject all tokens")
		}
	})
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub([]byte("secret"))
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	hub.Broadcast([]byte(`{"type":"test"}`))

	time.Sleep(10 * time.Millisecond)
}

func TestHub_BroadcastQueueFull(t *testing.T) {
	hub := NewHub([]byte("secret"))
	// Don't start Run(), so the broadcast channel fills up (capacity 256).
	for i := 0; i < 256; i++ {
		hub.Broadcast([]byte(`{"msg":"test"}`))
	}

	done := make(chan bool, 1)
	go func() {
		hub.Broadcast([]byte(`{"msg":"overflow"}`))
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast() blocked when the queue was full")
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := NewHub([]byte("secret"))
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	broadcasts := 100
	for i := 0; i < broadcasts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast([]byte(`{"type":"test"}`))
		}(i)
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("concurrent broadcasts timed out")
	}
}

func TestHub_ClientCount_ThreadSafe(t *testing.T) {
	hub := NewHub([]byte("secret"))
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.ClientCount()
		}()
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("concurrent ClientCount() timed out")
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub([]byte("secret"))
	go hub.Run()
	time.Sleep(10 * time.Millisecond)

	frame := []byte(`{"type":"benchmark"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(frame)
	}
}

func BenchmarkHub_ClientCount(b *testing.B) {
	hub := NewHub([]byte("secret"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.ClientCount()
	}
}
