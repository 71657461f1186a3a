// Package main provides a load testing tool for the chat WebSocket gateway.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"intouch/internal/notifications"
	"intouch/internal/seed"

	"github.com/gorilla/websocket"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	MessagesReceived     int64
	Errors               int64
}

var (
	metrics    Metrics
	httpClient = &http.Client{Timeout: 5 * time.Second}
)

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	email := flag.String("email", "", "Email of a user with at least one chat")
	password := flag.String("password", seed.DefaultPassword, "Password of that user")
	clients := flag.Int("clients", 50, "Number of concurrent connections")
	interval := flag.Duration("interval", 5*time.Second, "Delay between messages per connection")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	if *email == "" {
		log.Fatal("-email is required; seed the database and pick any seeded user")
	}

	log.Printf("🚀 Starting chat load test against %s", *host)
	log.Printf("Clients: %d, duration: %v", *clients, *duration)

	token, err := login(*host, *email, *password)
	if err != nil {
		log.Fatalf("❌ Login failed: %v", err)
	}
	chatID, err := firstChat(*host, token)
	if err != nil {
		log.Fatalf("❌ No chat to talk in: %v", err)
	}
	log.Printf("✅ Logged in, using chat %s", chatID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, token, chatID, i, *interval, stopChan, &wg)
		time.Sleep(50 * time.Millisecond) // spread ticket issuance
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func call(method, rawURL, token string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, rawURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func login(host, email, password string) (string, error) {
	var result struct {
		AccessToken string `json:"access_token"`
	}
	err := call(http.MethodPost, fmt.Sprintf("http://%s/api/auth/login", host), "",
		map[string]string{"email": email, "password": password}, &result)
	return result.AccessToken, err
}

func firstChat(host, token string) (string, error) {
	var page struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := call(http.MethodGet, fmt.Sprintf("http://%s/api/chat/?pageSize=1", host), token, nil, &page); err != nil {
		return "", err
	}
	if len(page.Items) == 0 {
		return "", fmt.Errorf("user has no chats")
	}
	return page.Items[0].ID, nil
}

func getTicket(host, token string) (string, error) {
	var result struct {
		Ticket string `json:"ticket"`
	}
	err := call(http.MethodPost, fmt.Sprintf("http://%s/api/ws/ticket", host), token, nil, &result)
	return result.Ticket, err
}

func runClient(host, token, chatID string, id int, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	// Tickets are single use, so every connection needs its own.
	ticket, err := getTicket(host, token)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/chat", RawQuery: "ticket=" + ticket}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	go func() {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var ev notifications.Event
			if json.Unmarshal(raw, &ev) == nil && ev.Type == notifications.EventError {
				atomic.AddInt64(&metrics.Errors, 1)
				continue
			}
			atomic.AddInt64(&metrics.MessagesReceived, 1)
		}
	}()

	if err := c.WriteJSON(notifications.Frame{Type: notifications.FrameOpenChat, ChatID: chatID}); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			frame := notifications.Frame{
				Type:    notifications.FrameSendMessage,
				ChatID:  chatID,
				Content: fmt.Sprintf("Load test message from client %d", id),
			}
			if err := c.WriteJSON(frame); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Messages Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
