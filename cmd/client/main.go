// Command client is a development chat client for a parley node. It
// registers an identity over the websocket gateway and can send a private
// message, fetch conversation history, fetch the user directory, or sit and
// print incoming notifications.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

type clientConfig struct {
	nodeURL    string
	identity   string
	name       string
	peer       string
	message    string
	fetchUsers bool
	fetchPeer  bool
	listenFor  time.Duration
	timeout    time.Duration
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("client failed: %v", err)
	}
}

func parseConfig() clientConfig {
	var cfg clientConfig
	flag.StringVar(&cfg.nodeURL, "node", "ws://127.0.0.1:8080/ws", "Websocket URL of the node")
	flag.StringVar(&cfg.identity, "identity", "", "Identity to register (required)")
	flag.StringVar(&cfg.name, "name", "", "Display name (defaults to identity)")
	flag.StringVar(&cfg.peer, "peer", "", "Peer identity for -message and -history")
	flag.StringVar(&cfg.message, "message", "", "Private message text to send to -peer")
	flag.BoolVar(&cfg.fetchPeer, "history", false, "Fetch conversation history with -peer")
	flag.BoolVar(&cfg.fetchUsers, "users", false, "Fetch the user directory")
	flag.DurationVar(&cfg.listenFor, "listen", 0, "Keep printing incoming notifications for this long")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Overall timeout for the requested flow")
	flag.Parse()

	if cfg.identity == "" {
		log.Fatal("-identity is required")
	}
	if cfg.name == "" {
		cfg.name = cfg.identity
	}
	if (cfg.message != "" || cfg.fetchPeer) && cfg.peer == "" {
		log.Fatal("-peer is required with -message or -history")
	}
	return cfg
}

func run(cfg clientConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.nodeURL, nil)
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer conn.Close()

	if err := send(conn, map[string]string{
		"action":      "register",
		"identity":    cfg.identity,
		"displayName": cfg.name,
	}); err != nil {
		return err
	}
	if _, err := waitFor(conn, cfg.timeout, "registered"); err != nil {
		return err
	}
	log.Printf("registered as %s", cfg.identity)

	if cfg.message != "" {
		if err := send(conn, map[string]string{
			"action":           "sendPrivate",
			"senderIdentity":   cfg.identity,
			"receiverIdentity": cfg.peer,
			"text":             cfg.message,
		}); err != nil {
			return err
		}
		echo, err := waitFor(conn, cfg.timeout, "newPrivateMessage")
		if err != nil {
			return err
		}
		log.Printf("delivered: %s", echo)
	}

	if cfg.fetchPeer {
		if err := send(conn, map[string]string{
			"action":  "fetchHistory",
			"entity1": cfg.identity,
			"entity2": cfg.peer,
		}); err != nil {
			return err
		}
		resp, err := waitFor(conn, cfg.timeout, "allMessagesResponse")
		if err != nil {
			return err
		}
		fmt.Println(resp)
	}

	if cfg.fetchUsers {
		if err := send(conn, map[string]string{"action": "fetchDirectory"}); err != nil {
			return err
		}
		resp, err := waitFor(conn, cfg.timeout, "allUsersResponse")
		if err != nil {
			return err
		}
		fmt.Println(resp)
	}

	if cfg.listenFor > 0 {
		log.Printf("listening for %s", cfg.listenFor)
		deadline := time.Now().Add(cfg.listenFor)
		_ = conn.SetReadDeadline(deadline)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			fmt.Println(string(data))
		}
	}
	return nil
}

func send(conn *websocket.Conn, frame map[string]string) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send %s: %w", frame["action"], err)
	}
	return nil
}

// waitFor reads frames until one carries the wanted event name, returning
// its raw JSON. Other notifications arriving in between are printed.
func waitFor(conn *websocket.Conn, timeout time.Duration, event string) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("waiting for %s: %w", event, err)
		}
		var head struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}
		if head.Event == event {
			return string(data), nil
		}
		fmt.Println(string(data))
	}
}
