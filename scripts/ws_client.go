//go:build ignore

// Dev helper: connects to the device event stream and prints frames.
//
//	go run scripts/ws_client.go ws://localhost:8080/v1/devices/stream?terminal=T01
package main

import (
	"log"
	"os"

	"github.com/gorilla/websocket"
)

func main() {
	url := "ws://localhost:8080/v1/devices/stream"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	log.Printf("connected to %s", url)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		log.Printf("event: %s", msg)
	}
}
