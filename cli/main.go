// Package main provides a terminal client that follows a workspace setup
// live, edits the shared document and confirms stages.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/session"
	"github.com/xiaot623/gogo/workspace/internal/stream"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Workspace API address")
	tenant := flag.String("tenant", "default", "Tenant ID")
	workspaceID := flag.String("workspace", "", "Workspace to resume (a new one is created when empty)")
	useWS := flag.Bool("ws", false, "Follow runs over WebSocket instead of SSE")
	debug := flag.Bool("debug", false, "Enable debug logs")
	flag.Parse()

	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	client := session.NewClient(*addr, *tenant)
	opts := session.Options{OnNotice: printNotice}
	if *useWS {
		opts.Transport = session.NewWSTransport(*addr, *tenant)
	}

	var (
		s   *session.Session
		err error
	)
	if *workspaceID == "" {
		s, err = session.Start(ctx, client, domain.CreateWorkspaceRequest{TenantID: *tenant}, opts)
	} else {
		s, err = session.Open(ctx, client, *workspaceID, opts)
	}
	if err != nil {
		log.Fatalf(ctx, err, "failed to open workspace")
	}
	defer s.Close()

	state := s.State()
	fmt.Printf("Workspace %s, stage %s, run %s\n", state.WorkspaceID, state.Stage, state.RunID)
	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /set <field> <value>, /show, /confirm, /errors, /quit")

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, s, strings.TrimSpace(line)); quit {
				fmt.Println("Bye!")
				return
			}
		}
	}
}

// run executes one input line and reports whether the user asked to quit.
func run(ctx context.Context, s *session.Session, input string) bool {
	if input == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(input, " ")
	switch cmd {
	case "/quit":
		return true

	case "/show":
		showDocument(s, s.Stage())

	case "/set":
		path, value, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok || path == "" {
			fmt.Println("usage: /set <field> <value>")
			return false
		}
		if err := s.Edit(path, parseValue(value)); err != nil {
			fmt.Printf("edit rejected: %v\n", err)
			return false
		}
		fmt.Printf("pending edits: %s\n", strings.Join(s.PendingEdits(), ", "))

	case "/confirm":
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		from := s.Stage()
		resp, err := s.Confirm(reqCtx)
		if err != nil {
			fmt.Printf("confirm failed: %v\n", err)
			return false
		}
		showDocument(s, from)
		if resp.Stage == domain.StageComplete {
			fmt.Println(stageStyle.Render("Setup complete."))
			return false
		}
		fmt.Println(stageStyle.Render(fmt.Sprintf("Now in stage %s (run %s)", resp.Stage, resp.RunID)))

	case "/errors":
		errs := s.StageErrors()
		if len(errs) == 0 {
			fmt.Println("no stage errors")
		}
		for _, e := range errs {
			fmt.Println(errorStyle.Render(fmt.Sprintf("[%s] %s (log %d)", e.Stage, e.Message, e.LogID)))
		}

	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Printf("unknown command %s\n", cmd)
			return false
		}
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		resp, err := s.Submit(reqCtx, input)
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
			return false
		}
		fmt.Printf("Message sent (log %d), waiting for the agent...\n", resp.LogID)
	}
	return false
}

// parseValue accepts JSON literals and falls back to a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func showDocument(s *session.Session, st domain.Stage) {
	doc, ok := s.Document(st)
	if !ok {
		fmt.Printf("no document for stage %s\n", st)
		return
	}
	formatted, _ := json.MarshalIndent(doc, "", "  ")
	fmt.Printf("\n%s\n", renderDocument(string(st), string(formatted)))
}

func printNotice(n session.Notice) {
	if n.Err != nil {
		fmt.Printf("\n%s\n", errorStyle.Render(fmt.Sprintf("connection lost: %v", n.Err)))
		return
	}
	switch e := n.Event.(type) {
	case stream.IntentUpdated:
		if e.Summary != "" {
			fmt.Printf("\n%s\n", agentStyle.Render("[agent] "+e.Summary))
		}
	case stream.IntentProposed:
		if e.Ready {
			fmt.Printf("\n%s\n", agentStyle.Render("[agent] intent package is ready; /confirm to continue"))
		}
	case stream.StageError:
		fmt.Printf("\n%s\n", errorStyle.Render(fmt.Sprintf("[%s error] %s", n.Stage, e.Message)))
	case stream.StageUpdate:
		fmt.Printf("\n%s\n", stageStyle.Render(fmt.Sprintf("[stage] now %s", e.Stage)))
	}
	if len(n.Result.Changed) > 0 {
		fmt.Println(renderFields(fmt.Sprintf("[%s] updated", n.Stage), n.Result.Changed))
	}
	if len(n.Result.Suppressed) > 0 {
		fmt.Println(renderFields(fmt.Sprintf("[%s] kept your edits", n.Stage), n.Result.Suppressed))
	}
}
