package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pavelsim/gorelay/pkg/client"
	"github.com/pavelsim/gorelay/pkg/logging"
	"github.com/pavelsim/gorelay/pkg/protocol"
	"github.com/pavelsim/gorelay/pkg/version"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:52777", "Server address")
	user := flag.String("user", "", "Username")
	password := flag.String("password", "", "Password")
	register := flag.Bool("register", false, "Register the account before logging in")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gorelay client", version.Full())
		return
	}
	if *user == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: -user and -password are required")
		os.Exit(2)
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: "text",
		Output: os.Stderr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	c, err := client.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if *register {
		msg, err := c.Register(*user, *password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println(msg)
	}
	if err := c.Authenticate(*user, *password); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("logged in as %s on %s\n", *user, *addr)

	c.SetEventHandler(printEvent)
	c.StartReceiving()

	go func() {
		repl(c)
		_ = c.Close()
	}()

	<-c.Done()
	fmt.Println("disconnected")
}

func printEvent(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeMessage:
		fmt.Printf("[%s] %s: %s\n", formatTime(env.Timestamp), env.From, env.Content)
	case protocol.TypeGroupMessage:
		fmt.Printf("[%s] %s@%s: %s\n", formatTime(env.Timestamp), env.From, env.To, env.Content)
	case protocol.TypeGroupCreated:
		fmt.Printf("group %q created\n", env.GroupName)
	case protocol.TypeUserAdded:
		fmt.Printf("%s added to group %q\n", env.User, env.GroupName)
	case protocol.TypeChatMessages:
		fmt.Printf("history for %s (%d messages):\n", env.ChatID, len(env.Messages))
		for _, m := range env.Messages {
			fmt.Printf("  [%s] %s: %s\n", formatTime(m.Timestamp), m.From, m.Content)
		}
	case protocol.TypeChatList:
		if env.Data == nil {
			return
		}
		fmt.Printf("users: %s\n", strings.Join(env.Data.Users, ", "))
		for _, g := range env.Data.Groups {
			fmt.Printf("group: %s (created %s)\n", g.GroupName, g.CreatedAt)
		}
	case protocol.TypeError:
		fmt.Printf("server error: %s\n", env.Message)
	default:
		fmt.Printf("unhandled %s message\n", env.Type)
	}
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "--:--"
	}
	return time.Unix(unix, 0).Format("15:04")
}

const helpText = `commands:
  /msg <user> <text>      send a direct message
  /group <name> <text>    send a group message
  /create <name>          create a group
  /invite <name> <user>   add a user to a group
  /history <chat>         direct chat history
  /ghistory <group>       group chat history
  /list                   list users and your groups
  /quit                   exit`

func repl(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(helpText)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runCommand(c, line); err != nil {
			if err == errQuit {
				return
			}
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func runCommand(c *client.Client, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/msg":
		to, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /msg <user> <text>")
		}
		return c.SendDirect(to, text)
	case "/group":
		name, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /group <name> <text>")
		}
		return c.SendGroup(name, text)
	case "/create":
		if rest == "" {
			return fmt.Errorf("usage: /create <name>")
		}
		return c.CreateGroup(rest)
	case "/invite":
		name, user, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /invite <name> <user>")
		}
		return c.Invite(name, user)
	case "/history":
		if rest == "" {
			return fmt.Errorf("usage: /history <chat>")
		}
		return c.RequestHistory(rest, false)
	case "/ghistory":
		if rest == "" {
			return fmt.Errorf("usage: /ghistory <group>")
		}
		return c.RequestHistory(rest, true)
	case "/list":
		return c.RequestChatList()
	case "/quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
