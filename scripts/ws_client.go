// Package main runs a demo WebSocket client for cart optimization events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a demo cart
	body := []byte(`{"carts":[{"externalRef":"demo-ws-1","items":[
		{"partId":"p1","partNumber":"BP-1044","quantity":2,"offers":[
			{"supplierId":"sup_a","supplierName":"A","unitPrice":19.99,"shippingFee":5.0,"inStock":true}
		]}
	]}]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/carts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()

	lr, err := http.NewRequest(http.MethodGet, base+"/v1/carts?limit=1", nil)
	if err != nil {
		log.Fatal(err)
	}
	lr.Header.Set("X-Tenant-Id", "t_demo")
	lr.Header.Set("X-Role", "admin")
	lresp, err := http.DefaultClient.Do(lr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = lresp.Body.Close() }()
	var listResp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(lresp.Body).Decode(&listResp); err != nil {
		log.Fatal(err)
	}
	if len(listResp.Items) == 0 {
		log.Fatal("no carts returned")
	}
	cartID := listResp.Items[0].ID
	log.Printf("Cart ID: %s", cartID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws/events"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to cart events
	pl, _ := json.Marshal(map[string]any{"cartId": cartID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an event via optimize
	time.Sleep(500 * time.Millisecond)
	optBody := []byte(fmt.Sprintf(`{"cartId":%q}`, cartID))
	optReq, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader(optBody))
	optReq.Header.Set("Content-Type", "application/json")
	optReq.Header.Set("X-Tenant-Id", "t_demo")
	optReq.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(optReq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
