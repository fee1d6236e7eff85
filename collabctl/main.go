package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/bringyour/collab/collab"
	"github.com/bringyour/collab/collab/model"
)

const CollabCtlVersion = "0.0.1"

func main() {
	usage := `Collaborative session control.

A host exposes the documents listed in a yaml config over tcp and websocket.
The address of a websocket host is a ws:// url.

Usage:
    collabctl host --config=<config> [--tcp=<tcp_address>] [--ws=<ws_address>] [--log=<level>]
    collabctl list <address> [--log=<level>]
    collabctl join <address> <document_id> --name=<name>
        [--observer]
        [--password=<password>]
        [--log=<level>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Host yaml config.
    --tcp=<tcp_address>        Overrides the config tcp address.
    --ws=<ws_address>          Overrides the config websocket address.
    --name=<name>              Display name.
    --observer                 Join read only.
    --password=<password>      Session password. Prompted when the session is protected.
    --log=<level>              Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	logLevel, _ := opts.String("--log")
	flag.Set("logtostderr", "true")
	flag.Set("v", logLevel)
	defer glog.Flush()

	if host_, _ := opts.Bool("host"); host_ {
		host(opts)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		join(opts)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
}

func readPassword(prompt string) string {
	fmt.Print(prompt)
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Printf("\n")
	if err != nil {
		panic(err)
	}
	return string(passwordBytes)
}

func host(opts docopt.Opts) {
	configPath, _ := opts.String("--config")
	config, err := LoadHostConfig(configPath)
	if err != nil {
		fmt.Printf("%s\n", err)
		os.Exit(1)
	}
	if tcpAddress, err := opts.String("--tcp"); err == nil {
		config.TcpAddress = tcpAddress
	}
	if wsAddress, err := opts.String("--ws"); err == nil {
		config.WsAddress = wsAddress
	}
	if config.TcpAddress == "" && config.WsAddress == "" {
		fmt.Printf("No tcp or websocket address.\n")
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	host := collab.NewHostWithDefaults(ctx)

	modules := map[int]*model.Module{}
	for i, sessionConfig := range config.Sessions {
		module, err := sessionConfig.NewModule()
		if err != nil {
			fmt.Printf("%s\n", err)
			os.Exit(1)
		}
		password := sessionConfig.Password
		if sessionConfig.PasswordPrompt {
			password = readPassword(fmt.Sprintf("Password for %s: ", sessionConfig.Name))
		}
		sessionId, err := host.OpenSession(module, sessionConfig.MaxEditors, sessionConfig.MaxObservers, password)
		if err != nil {
			panic(err)
		}
		modules[i] = module
		fmt.Printf("%s %s\n", sessionId, sessionConfig.Name)
	}

	err = host.ListenAndServe(ctx, config.TcpAddress, config.WsAddress)
	if err != nil {
		fmt.Printf("serve error: %s\n", err)
	}
	host.Close()

	for i, module := range modules {
		sessionConfig := config.Sessions[i]
		if !sessionConfig.SaveOnExit || !module.IsModified() {
			continue
		}
		var err error
		collab.Trace(fmt.Sprintf("[ctl]save %s", sessionConfig.Snapshot), func() {
			err = sessionConfig.Save(module)
		})
		if err != nil {
			fmt.Printf("save %s error: %s\n", sessionConfig.Name, err)
		} else {
			fmt.Printf("saved %s\n", sessionConfig.Snapshot)
		}
	}
}

func connect(ctx context.Context, client *collab.Client, address string) ([]collab.DocumentInfo, error) {
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connectCancel()

	if isWsAddress(address) {
		return client.ConnectWs(connectCtx, address)
	}
	return client.Connect(connectCtx, address)
}

func isWsAddress(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}

func list(opts docopt.Opts) {
	address, _ := opts.String("<address>")

	ctx, cancel := signalContext()
	defer cancel()

	client := collab.NewClientWithDefaults(ctx, model.NewModule("", 0))
	defer client.Close()

	sessions, err := connect(ctx, client, address)
	if err != nil {
		fmt.Printf("connect error: %s\n", err)
		os.Exit(1)
	}
	for _, session := range sessions {
		protected := ""
		if session.PasswordProtected {
			protected = " (password)"
		}
		fmt.Printf(
			"%s %s editors %d/%d observers %d/%d%s\n",
			session.DocumentId,
			session.Name,
			session.Editors,
			session.MaxEditors,
			session.Observers,
			session.MaxObservers,
			protected,
		)
	}
}

// joins, prints session events, and sends each line of stdin as chat
func join(opts docopt.Opts) {
	address, _ := opts.String("<address>")
	documentIdStr, _ := opts.String("<document_id>")
	name, _ := opts.String("--name")
	observer, _ := opts.Bool("--observer")

	documentId, err := collab.ParseId(documentIdStr)
	if err != nil {
		fmt.Printf("invalid document id: %s\n", err)
		os.Exit(1)
	}
	role := collab.RoleEditor
	if observer {
		role = collab.RoleObserver
	}

	ctx, cancel := signalContext()
	defer cancel()

	replica := model.NewModule("", 0)
	client := collab.NewClientWithDefaults(ctx, replica)
	defer client.Close()

	participantName := func(connectionId collab.Id) string {
		for _, participant := range client.Participants() {
			if participant.ConnectionId == connectionId {
				return participant.Name
			}
		}
		return connectionId.String()
	}
	client.AddReceiveCallback(func(message collab.Message) {
		switch v := message.(type) {
		case *collab.ParticipantUpdate:
			if v.Joined {
				fmt.Printf("* %s joined as %s\n", v.Participant.Name, v.Participant.Role)
			} else {
				fmt.Printf("* %s left\n", v.Participant.Name)
			}
		case *collab.ChatMessage:
			fmt.Printf("<%s> %s\n", participantName(v.ConnectionId), v.Text)
		case *collab.SessionClosing:
			fmt.Printf("* session closed\n")
			cancel()
		}
	})
	client.AddCloseCallback(func(err error) {
		fmt.Printf("* disconnected\n")
		cancel()
	})
	unsubscribe := replica.Subscribe(func(hint model.UpdateHint) {
		glog.V(1).Infof("[ctl]changed %s %d\n", hint.Kind, hint.Id)
	})
	defer unsubscribe()

	sessions, err := connect(ctx, client, address)
	if err != nil {
		fmt.Printf("connect error: %s\n", err)
		os.Exit(1)
	}

	password, passwordErr := opts.String("--password")
	if passwordErr != nil {
		for _, session := range sessions {
			if session.DocumentId == documentId && session.PasswordProtected {
				password = readPassword("Password: ")
			}
		}
	}

	outcome, err := client.Join(ctx, documentId, password, role, name)
	if err != nil {
		fmt.Printf("join error: %s\n", err)
		os.Exit(1)
	}
	if outcome != collab.JoinOutcomeAccepted {
		fmt.Printf("join rejected: %s\n", outcome)
		os.Exit(1)
	}

	fmt.Printf("joined %s as %s with %d participants\n", replica.Name(), role, len(client.Participants()))

	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := client.SendChat(scanner.Text()); err != nil {
				fmt.Printf("chat error: %s\n", err)
				return
			}
		}
	}()

	<-ctx.Done()
	client.Leave()
}
