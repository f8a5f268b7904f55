package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"ventcore/internal/store"
)

// ============================================================================
// ventctl - Command-line IPC Client
// ============================================================================
// Sends operator actions to the ventd daemon via IPC, or prints its state.
//
// Usage:
//   ventctl parameters '{"mode":"pc_ac","fio2":40,"peep":5}'
//   ventctl apply-standby-parameters
//   ventctl display '{"theme":"light","unit":"metric"}'
//   ventctl state
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/ventd.sock)
//   -http ADDR      ventd HTTP address for "state" (default: 127.0.0.1:3001)
// ============================================================================

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// commands maps CLI verbs to action envelope types. needsData marks actions
// that take a JSON payload argument.
var commands = map[string]struct {
	typ       string
	needsData bool
}{
	"parameters":                 {"commit_parameters", true},
	"standby-parameters":         {"commit_standby_parameters", true},
	"apply-standby-parameters":   {"apply_standby_parameters", false},
	"alarm-limits":               {"commit_alarm_limits", true},
	"standby-alarm-limits":       {"commit_standby_alarm_limits", true},
	"apply-standby-alarm-limits": {"apply_standby_alarm_limits", false},
	"system":                     {"commit_system_settings", true},
	"display":                    {"commit_display_setting", true},
}

func main() {
	socketPath := "/tmp/ventd.sock"
	httpAddr := "127.0.0.1:3001"

	args := os.Args[1:]
	for len(args) > 0 {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
				os.Exit(1)
			}
			socketPath = args[1]
			args = args[2:]
			continue
		case "-http", "--http":
			if len(args) < 2 {
				fmt.Fprintf(os.Stderr, "error: -http requires an argument\n")
				os.Exit(1)
			}
			httpAddr = args[1]
			args = args[2:]
			continue
		}
		break
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return

	case "state":
		if err := printState(httpAddr, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var payload string
	if len(args) > 1 {
		payload = args[1]
	}
	line, err := buildAction(args[0], payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := sendAction(socketPath, line); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

// buildAction validates a CLI command and its JSON payload and returns the
// canonical action envelope for the daemon.
func buildAction(verb, payload string) ([]byte, error) {
	cmd, ok := commands[verb]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", verb)
	}
	if cmd.needsData && payload == "" {
		return nil, fmt.Errorf("%s requires a JSON payload", verb)
	}

	env := store.EventEnvelope{Type: cmd.typ}
	if payload != "" {
		if !json.Valid([]byte(payload)) {
			return nil, fmt.Errorf("%s: payload is not valid JSON", verb)
		}
		env.Data = json.RawMessage(payload)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}

	// Round-trip through the daemon's decoder so typos fail here, not there.
	ev, err := store.UnmarshalEvent(raw)
	if err != nil {
		return nil, err
	}
	return store.MarshalEvent(ev)
}

func sendAction(socketPath string, line []byte) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	// Send action (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return fmt.Errorf("send action: %w", err)
	}

	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

// printState fetches /state and writes it indented to w.
func printState(addr string, w io.Writer) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/state")
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get state: %s", resp.Status)
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ventctl - Control the ventd daemon via IPC

Usage:
  ventctl [options] <command> [json]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/ventd.sock)
  -http ADDR      ventd HTTP address, used by "state" (default: 127.0.0.1:3001)

Commands:
  parameters <json>             Commit ventilation parameters
  standby-parameters <json>     Edit the standby parameters form
  apply-standby-parameters      Commit the standby parameters form
  alarm-limits <json>           Commit alarm limits
  standby-alarm-limits <json>   Edit the standby alarm limits form
  apply-standby-alarm-limits    Commit the standby alarm limits form
  system <json>                 Set display brightness and/or clock
  display <json>                Set UI theme and units
  state                         Print the current state snapshot
  help, -h, --help              Show this help message

Examples:
  ventctl parameters '{"ventilating":true,"mode":"pc_ac","fio2":40,"peep":5,"pip":20,"rr":14,"ie":0.5}'
  ventctl system '{"display_brightness":80}'
  ventctl -socket /run/ventd.sock apply-standby-parameters
`)
}
