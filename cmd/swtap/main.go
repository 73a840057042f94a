// swtap is a console observer for a state stream: it prints the
// message batches a server sends and forwards stdin lines (JSON
// command arrays) back.
//
// Usage:
//
//	swtap -url ws://localhost:8359/stream/
//	["set",3,42,"id1"]
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		urls     = flag.String("url", "ws://localhost:8359/stream/", "websocket URL")
		showData = flag.Bool("data", false, "print binary frame payloads")
	)
	flag.Parse()

	c, _, err := websocket.DefaultDialer.Dial(*urls, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	log.Printf("swtap connected to %s", *urls)

	done := make(chan bool)
	go func() {
		defer close(done)
		for {
			mt, message, err := c.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			switch mt {
			case websocket.TextMessage:
				fmt.Printf("%s\n", message)
			case websocket.BinaryMessage:
				if len(message) < 4 {
					log.Printf("short binary frame (%d bytes)", len(message))
					continue
				}
				serial := binary.BigEndian.Uint32(message)
				if *showData {
					fmt.Printf("data %d %q\n", serial, message[4:])
				} else {
					fmt.Printf("data %d (%d bytes)\n", serial, len(message)-4)
				}
			}
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				log.Printf("write: %v", err)
				return
			}
		}
	}()

	<-done
}
