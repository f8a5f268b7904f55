package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"ventcore/internal/protocol"
)

// vent-listen connects to a ventilator controller (or anything speaking its
// binary protocol) and prints every decoded message as one JSON line.
// Text frames, such as the ventd UI feed, are printed as they arrive.
func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8000/", "Controller websocket URL")
		kinds = flag.String("kinds", "", "Comma-separated message kinds to print (default: all)")
		raw   = flag.Bool("raw", false, "Also print undecodable binary frames as hex")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	filter, err := parseKinds(*kinds)
	if err != nil {
		log.Fatalf("invalid -kinds: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	codec := protocol.NewCodec(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				fmt.Printf("%s\n", message)
			case websocket.BinaryMessage:
				if err := printFrame(os.Stdout, codec, message, filter, *raw); err != nil {
					log.Printf("%v", err)
				}
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// parseKinds turns a comma-separated list of kind names into a filter set.
// An empty list means no filtering.
func parseKinds(s string) (map[protocol.Kind]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	filter := make(map[protocol.Kind]bool)
	for _, name := range strings.Split(s, ",") {
		k, err := protocol.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		filter[k] = true
	}
	return filter, nil
}

// frameLine is one line of output.
type frameLine struct {
	Kind    string           `json:"kind"`
	Message protocol.Message `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
	Hex     string           `json:"hex,omitempty"`
}

// printFrame decodes one binary frame and writes it to w as a JSON line.
func printFrame(w io.Writer, codec *protocol.Codec, frame []byte, filter map[protocol.Kind]bool, raw bool) error {
	msg, err := codec.Decode(frame)
	if err != nil {
		if !raw {
			return fmt.Errorf("decode: %w", err)
		}
		line := frameLine{Kind: "undecodable", Error: err.Error(), Hex: fmt.Sprintf("%x", frame)}
		return json.NewEncoder(w).Encode(line)
	}
	if filter != nil && !filter[msg.Kind()] {
		return nil
	}
	return json.NewEncoder(w).Encode(frameLine{Kind: msg.Kind().String(), Message: msg})
}
