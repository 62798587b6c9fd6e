package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/rcschat/internal/api"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/client"
	"github.com/matheus3301/rcschat/internal/config"
	"github.com/matheus3301/rcschat/internal/lock"
	"github.com/matheus3301/rcschat/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	addrFlag := flag.String("addr", "", "HTTP API address (default from config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		die(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		cfg, err := config.Load(profile.ConfigPath())
		if err != nil {
			die(fmt.Errorf("load config: %w", err))
		}
		addr = cfg.API.ListenAddr
	}

	c, err := client.New(profile.SocketPath(profileName), addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	cli := &ctl{c: c, profile: profileName, json: *jsonFlag}

	if args[0] == "events" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cli.events(ctx, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "status":
		cli.status(ctx)
	case "sessions":
		cli.sessions(ctx)
	case "session":
		need(rest, 1, "session <id>")
		cli.session(ctx, rest[0])
	case "start":
		need(rest, 1, "start <contact> [text]")
		cli.start(ctx, api.StartRequest{To: rest[0], Text: strings.Join(rest[1:], " ")})
	case "group":
		need(rest, 2, "group <subject> <contact>...")
		cli.start(ctx, api.StartRequest{Subject: rest[0], Participants: rest[1:]})
	case "accept":
		need(rest, 1, "accept <id>")
		check(c.Accept(ctx, rest[0]))
	case "reject":
		need(rest, 1, "reject <id>")
		check(c.Reject(ctx, rest[0]))
	case "end":
		need(rest, 1, "end <id>")
		check(c.Terminate(ctx, rest[0]))
	case "send":
		need(rest, 2, "send <id> <text>")
		m, err := c.Send(ctx, rest[0], strings.Join(rest[1:], " "))
		check(err)
		cli.print(m, func() { fmt.Printf("Sent %s\n", m.ID) })
	case "typing":
		need(rest, 2, "typing <id> <on|off>")
		check(c.Composing(ctx, rest[0], rest[1] == "on"))
	case "invite":
		need(rest, 2, "invite <id> <contact>...")
		info, err := c.Invite(ctx, rest[0], rest[1:])
		check(err)
		cli.print(info, func() { printInfo(info) })
	case "rejoin":
		need(rest, 1, "rejoin <chat-id>")
		info, err := c.Rejoin(ctx, rest[0])
		check(err)
		cli.print(info, func() { printInfo(info) })
	case "restart":
		need(rest, 1, "restart <chat-id>")
		info, err := c.Restart(ctx, rest[0])
		check(err)
		cli.print(info, func() { printInfo(info) })
	case "post":
		cli.post(ctx, rest)
	case "outbox":
		need(rest, 1, "outbox <client-msg-id>")
		e, err := c.Outbox(ctx, rest[0])
		check(err)
		cli.print(e, func() {
			fmt.Printf("%s %s attempts=%d %s\n", e.ClientMsgID, e.Status, e.Attempts, e.ErrorMessage)
		})
	case "messages":
		cli.messages(ctx, rest)
	case "search":
		need(rest, 1, "search <query> [chat-id]")
		chatID := ""
		if len(rest) > 1 {
			chatID = rest[1]
		}
		results, err := c.Search(ctx, rest[0], chatID, 20)
		check(err)
		cli.print(results, func() {
			for _, r := range results {
				fmt.Printf("%-16s %s  %s\n", r.Message.ChatID, r.Message.MsgID, r.Snippet)
			}
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: rcsctl [--profile <name>] [--addr host:port] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  sessions                        List live sessions")
	fmt.Fprintln(os.Stderr, "  session <id>                    Show one session")
	fmt.Fprintln(os.Stderr, "  start <contact> [text]          Start a 1-1 chat")
	fmt.Fprintln(os.Stderr, "  group <subject> <contact>...    Start a group chat")
	fmt.Fprintln(os.Stderr, "  accept|reject|end <id>          Answer or end a session")
	fmt.Fprintln(os.Stderr, "  send <id> <text>                Send on a session")
	fmt.Fprintln(os.Stderr, "  typing <id> <on|off>            Set composing state")
	fmt.Fprintln(os.Stderr, "  invite <id> <contact>...        Add group participants")
	fmt.Fprintln(os.Stderr, "  rejoin|restart <chat-id>        Resume a stored group chat")
	fmt.Fprintln(os.Stderr, "  post [--chat id|--to c] <text>  Queue a message in the outbox")
	fmt.Fprintln(os.Stderr, "  outbox <client-msg-id>          Show an outbox entry")
	fmt.Fprintln(os.Stderr, "  messages [--limit n] <chat-id>  List stored messages")
	fmt.Fprintln(os.Stderr, "  search <query> [chat-id]        Full-text message search")
	fmt.Fprintln(os.Stderr, "  events [--since n] [--chat id]  Stream events")
}

type ctl struct {
	c       *client.Client
	profile string
	json    bool
}

func (cli *ctl) print(v any, text func()) {
	if cli.json {
		outputJSON(v)
		return
	}
	text()
}

func (cli *ctl) status(ctx context.Context) {
	pid, err := lock.Owner(profile.Dir(cli.profile))
	check(err)
	if pid == 0 {
		if cli.json {
			outputJSON(map[string]any{"profile": cli.profile, "running": false})
			return
		}
		fmt.Printf("Profile: %s\n", cli.profile)
		fmt.Println("Daemon:  not running")
		return
	}

	serving, err := cli.c.Serving(ctx, "")
	check(err)
	h, err := cli.c.HTTPHealth(ctx)
	check(err)
	if cli.json {
		outputJSON(map[string]any{
			"profile":  cli.profile,
			"running":  true,
			"pid":      pid,
			"health":   serving.String(),
			"state":    h.Status,
			"sessions": h.Sessions,
		})
		return
	}
	fmt.Printf("Profile:  %s\n", cli.profile)
	fmt.Printf("PID:      %d\n", pid)
	fmt.Printf("Health:   %s\n", serving)
	fmt.Printf("State:    %s\n", h.Status)
	fmt.Printf("Sessions: %d\n", h.Sessions)
}

func (cli *ctl) sessions(ctx context.Context) {
	sessions, err := cli.c.Sessions(ctx)
	check(err)
	if cli.json {
		outputJSON(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tDIRECTION\tSTATE\tCHAT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.Direction, s.State, s.ChatID)
	}
	_ = w.Flush()
}

func (cli *ctl) session(ctx context.Context, id string) {
	info, err := cli.c.Session(ctx, id)
	check(err)
	cli.print(info, func() { printInfo(info) })
}

func (cli *ctl) start(ctx context.Context, req api.StartRequest) {
	info, err := cli.c.Start(ctx, req)
	check(err)
	cli.print(info, func() { printInfo(info) })
}

func (cli *ctl) post(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	chatID := fs.String("chat", "", "existing chat ID")
	to := fs.String("to", "", "contact to start a 1-1 chat with")
	id := fs.String("id", "", "client message ID (default random)")
	_ = fs.Parse(args)
	need(fs.Args(), 1, "post [--chat id|--to contact] <text>")

	clientMsgID, err := cli.c.Queue(ctx, api.OutboxRequest{
		ClientMsgID: *id,
		ChatID:      *chatID,
		To:          *to,
		Text:        strings.Join(fs.Args(), " "),
	})
	check(err)
	cli.print(map[string]string{"client_msg_id": clientMsgID}, func() {
		fmt.Printf("Queued %s\n", clientMsgID)
	})
}

func (cli *ctl) messages(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	limit := fs.Int("limit", 20, "page size")
	before := fs.Int64("before", 0, "only messages before this unix-ms timestamp")
	_ = fs.Parse(args)
	need(fs.Args(), 1, "messages [--limit n] [--before ts] <chat-id>")

	msgs, more, err := cli.c.Messages(ctx, fs.Arg(0), *before, *limit)
	check(err)
	if cli.json {
		outputJSON(map[string]any{"messages": msgs, "has_more": more})
		return
	}
	// Oldest first on a terminal.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ts := time.UnixMilli(m.LocalTimestamp).Format("2006-01-02 15:04:05")
		arrow := "<"
		if m.Direction == "out" {
			arrow = ">"
		}
		fmt.Printf("%s %s %-14s %s [%s]\n", ts, arrow, m.Contact, m.Content, m.Status)
	}
	if more && len(msgs) > 0 {
		fmt.Printf("-- more: --before %d\n", msgs[len(msgs)-1].LocalTimestamp)
	}
}

func (cli *ctl) events(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	since := fs.Int64("since", 0, "replay journaled events after this sequence")
	chatID := fs.String("chat", "", "only events of this chat")
	_ = fs.Parse(args)

	err := cli.c.Events(ctx, *since, *chatID, func(f api.Frame) error {
		if cli.json {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		ts := time.UnixMilli(f.TS).Format("15:04:05.000")
		fmt.Printf("%s %6d %-28s %-16s %s\n", ts, f.Seq, f.Kind, f.ChatID, f.Payload)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		die(err)
	}
}

func printInfo(info *chat.Info) {
	fmt.Printf("ID:        %s\n", info.ID)
	fmt.Printf("Chat:      %s\n", info.ChatID)
	fmt.Printf("Kind:      %s (%s)\n", info.Kind, info.Direction)
	fmt.Printf("State:     %s\n", info.State)
	if info.Subject != "" {
		fmt.Printf("Subject:   %s\n", info.Subject)
	}
	if info.Remote != "" {
		fmt.Printf("Remote:    %s\n", info.Remote)
	}
	for c, st := range info.Participants {
		fmt.Printf("  %-16s %s\n", c, st)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: rcsctl %s\n", usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		die(err)
	}
}

func die(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
