package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// envelope mirrors the daemon's uniform response body.
type envelope struct {
	OK    bool            `json:"ok"`
	Error *apiError       `json:"error"`
	Data  json.RawMessage `json:"data"`
}

type apiError struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	CanRetry          bool   `json:"canRetry"`
	RequiresReconnect bool   `json:"requiresReconnect"`
}

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:8870", "daemon address")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := resty.New().
		SetBaseURL("http://" + *addrFlag).
		SetTimeout(10 * time.Second)

	switch args[0] {
	case "health":
		cmdGet(c, "/healthz", *jsonFlag, printHealth)
	case "session":
		cmdGet(c, "/session", *jsonFlag, printSession)
	case "reconnect":
		cmdPost(c, "/session/reconnect", nil, *jsonFlag, printSession)
	case "window":
		conv := requireArg(args, 1, "window <conversation>")
		cmdGet(c, "/conversations/"+conv+"/window", *jsonFlag, printWindow)
	case "status":
		conv := requireArg(args, 1, "status <conversation>")
		cmdGet(c, "/conversations/"+conv+"/response-status", *jsonFlag, printResponseStatus)
	case "messages":
		conv := requireArg(args, 1, "messages <conversation>")
		cmdGet(c, "/conversations/"+conv+"/messages", *jsonFlag, printMessages)
	case "send":
		conv := requireArg(args, 1, "send <conversation> <text>")
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatdeskctl send <conversation> <text>")
			os.Exit(1)
		}
		body := map[string]string{"content": strings.Join(args[2:], " ")}
		cmdPost(c, "/conversations/"+conv+"/messages", body, *jsonFlag, printSendResult)
	case "participants":
		conv := requireArg(args, 1, "participants <conversation>")
		cmdGet(c, "/conversations/"+conv+"/participants", *jsonFlag, printParticipants)
	case "close":
		conv := requireArg(args, 1, "close <conversation> [reason]")
		var body map[string]string
		if len(args) >= 3 {
			body = map[string]string{"reason": strings.Join(args[2:], " ")}
		}
		cmdPost(c, "/conversations/"+conv+"/close", body, *jsonFlag, printLifecycle)
	case "reopen":
		conv := requireArg(args, 1, "reopen <conversation>")
		cmdPost(c, "/conversations/"+conv+"/reopen", nil, *jsonFlag, printLifecycle)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatdeskctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  health                       Show daemon health")
	fmt.Fprintln(os.Stderr, "  session                      Show session state")
	fmt.Fprintln(os.Stderr, "  reconnect                    Re-probe the session credential")
	fmt.Fprintln(os.Stderr, "  window <conv>                Show messaging window state")
	fmt.Fprintln(os.Stderr, "  status <conv>                Show response status")
	fmt.Fprintln(os.Stderr, "  messages <conv>              List recent messages")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>           Send a message")
	fmt.Fprintln(os.Stderr, "  participants <conv>          List active participants")
	fmt.Fprintln(os.Stderr, "  close <conv> [reason]        Close a conversation")
	fmt.Fprintln(os.Stderr, "  reopen <conv>                Reopen a closed conversation")
}

func requireArg(args []string, i int, usage string) string {
	if len(args) <= i {
		fmt.Fprintf(os.Stderr, "usage: chatdeskctl %s\n", usage)
		os.Exit(1)
	}
	return args[i]
}

func cmdGet(c *resty.Client, path string, jsonOut bool, render func(json.RawMessage)) {
	resp, err := c.R().Get(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	handle(resp.Body(), jsonOut, render)
}

func cmdPost(c *resty.Client, path string, body any, jsonOut bool, render func(json.RawMessage)) {
	req := c.R()
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	handle(resp.Body(), jsonOut, render)
}

func handle(body []byte, jsonOut bool, render func(json.RawMessage)) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		fmt.Fprintf(os.Stderr, "error: unexpected daemon response: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(env)
		if !env.OK {
			os.Exit(1)
		}
		return
	}
	if !env.OK {
		if env.Error != nil {
			fmt.Fprintf(os.Stderr, "failed: %s (%s)\n", env.Error.Message, env.Error.Kind)
			if env.Error.RequiresReconnect {
				fmt.Fprintln(os.Stderr, "session must be reconnected: chatdeskctl reconnect")
			} else if env.Error.CanRetry {
				fmt.Fprintln(os.Stderr, "this error is retryable")
			}
		} else {
			fmt.Fprintln(os.Stderr, "failed")
		}
		os.Exit(1)
	}
	render(env.Data)
}

func printHealth(data json.RawMessage) {
	var v struct {
		UptimeMs      int64  `json:"uptimeMs"`
		Conversations int    `json:"conversations"`
		Messages      int    `json:"messages"`
		Session       string `json:"session"`
	}
	mustUnmarshal(data, &v)
	fmt.Printf("Uptime:        %s\n", (time.Duration(v.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Conversations: %d\n", v.Conversations)
	fmt.Printf("Messages:      %d\n", v.Messages)
	fmt.Printf("Session:       %s\n", v.Session)
}

func printSession(data json.RawMessage) {
	var v struct {
		State       string `json:"state"`
		Reconnected bool   `json:"reconnected"`
	}
	mustUnmarshal(data, &v)
	fmt.Printf("Session: %s\n", v.State)
}

func printWindow(data json.RawMessage) {
	var v struct {
		IsOpen           bool      `json:"isOpen"`
		HoursRemaining   int       `json:"hoursRemaining"`
		MinutesRemaining int       `json:"minutesRemaining"`
		ExpiresAt        time.Time `json:"expiresAt"`
	}
	mustUnmarshal(data, &v)
	if !v.IsOpen {
		fmt.Println("Window: closed (template message required)")
		return
	}
	fmt.Printf("Window: open, %dh %dm remaining (expires %s)\n",
		v.HoursRemaining, v.MinutesRemaining, v.ExpiresAt.Local().Format(time.RFC822))
}

func printResponseStatus(data json.RawMessage) {
	var v struct {
		Status string `json:"status"`
	}
	mustUnmarshal(data, &v)
	fmt.Printf("Status: %s\n", v.Status)
}

func printMessages(data json.RawMessage) {
	var v struct {
		Messages []struct {
			MessageID string    `json:"messageId"`
			Direction string    `json:"direction"`
			Body      string    `json:"body"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"createdAt"`
			Error     *apiError `json:"error"`
		} `json:"messages"`
		HasMore bool `json:"hasMore"`
	}
	mustUnmarshal(data, &v)
	if len(v.Messages) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range v.Messages {
		marker := "<-"
		if m.Direction == "outbound" {
			marker = "->"
		}
		fmt.Printf("%s %s [%s] %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), marker, m.Status, m.Body)
		if m.Error != nil {
			fmt.Printf("     error: %s (%s)\n", m.Error.Message, m.Error.Kind)
		}
	}
	if v.HasMore {
		fmt.Println("(more messages available)")
	}
}

func printSendResult(data json.RawMessage) {
	var v struct {
		MessageID string `json:"messageId"`
	}
	mustUnmarshal(data, &v)
	fmt.Printf("Sent: %s\n", v.MessageID)
}

func printParticipants(data json.RawMessage) {
	var v struct {
		Participants []struct {
			OperatorID string    `json:"operatorId"`
			InvitedBy  string    `json:"invitedBy"`
			Priority   int       `json:"priority"`
			InvitedAt  time.Time `json:"invitedAt"`
		} `json:"participants"`
	}
	mustUnmarshal(data, &v)
	if len(v.Participants) == 0 {
		fmt.Println("No active participants.")
		return
	}
	for _, p := range v.Participants {
		fmt.Printf("%-20s prio %d  invited %s", p.OperatorID, p.Priority, p.InvitedAt.Local().Format("2006-01-02 15:04"))
		if p.InvitedBy != "" {
			fmt.Printf(" by %s", p.InvitedBy)
		}
		fmt.Println()
	}
}

func printLifecycle(data json.RawMessage) {
	var v map[string]bool
	mustUnmarshal(data, &v)
	switch {
	case v["alreadyClosed"]:
		fmt.Println("Already closed.")
	case v["closed"]:
		fmt.Println("Closed.")
	case v["alreadyActive"]:
		fmt.Println("Already active.")
	case v["reopened"]:
		fmt.Println("Reopened.")
	}
}

func mustUnmarshal(data json.RawMessage, v any) {
	if err := json.Unmarshal(data, v); err != nil {
		fmt.Fprintf(os.Stderr, "error: unexpected daemon response: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
