package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/dispatch"
	"github.com/zulandar/labdesk/internal/models"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long:  "Starts an interactive chat on a fresh thread. Type /help for commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			r := &repl{
				reg:         a.registry,
				machine:     a.machine,
				coord:       a.coord,
				client:      a.client,
				in:          cmd.InOrStdin(),
				out:         cmd.OutOrStdout(),
				interactive: isTerminal(cmd.InOrStdin()),
			}
			return r.run(ctx)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

const chatHelp = `Commands:
  /new               start a new thread
  /threads           list threads
  /switch N          switch to thread N
  /rename NAME       rename the current thread
  /delete [N]        delete thread N (default: current)
  /mode MODE         general, search or specific
  /products          list products from the latest recommendation
  /select N          discuss product N
  /deselect          stop discussing the selected product
  /show              toggle product details of the latest recommendation
  /examples          list example prompts
  /ex N              send example prompt N
  /search QUERY      search the catalogue
  /quit              leave
Anything else is sent to the assistant.`

// repl is the terminal chat loop. It always works on the active thread.
type repl struct {
	reg         *registry.Registry
	machine     *session.Machine
	coord       *dispatch.Coordinator
	client      assistant.Client
	in          io.Reader
	out         io.Writer
	interactive bool
}

func (r *repl) run(ctx context.Context) error {
	r.printThread()
	scanner := bufio.NewScanner(r.in)
	for {
		if r.interactive {
			fmt.Fprint(r.out, r.prompt())
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				return nil
			}
			continue
		}
		r.submit(ctx, line)
	}
}

func (r *repl) prompt() string {
	st, _ := r.machine.Snapshot(r.reg.Active())
	return fmt.Sprintf("[%s] %s > ", st.Mode.Label(), session.Placeholder(st.Mode, st.SelectedProduct))
}

func (r *repl) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	active := r.reg.Active()

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/new":
		r.reg.Create()
		r.printThread()
	case "/threads":
		for i, t := range r.reg.Threads() {
			marker := " "
			if t.ID == active {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %d. %s\n", marker, i+1, t.Name)
		}
	case "/switch":
		t, ok := r.threadAt(arg)
		if !ok {
			return false
		}
		r.reg.Select(t.ID)
		r.printThread()
	case "/rename":
		name, _ := r.reg.Rename(active, arg)
		fmt.Fprintf(r.out, "Renamed to %q\n", name)
	case "/delete":
		id := active
		if arg != "" {
			t, ok := r.threadAt(arg)
			if !ok {
				return false
			}
			id = t.ID
		}
		r.reg.Delete(id)
		r.printThread()
	case "/mode":
		mode, err := parseModeArg(arg)
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		before := r.lastID(active)
		changed, err := r.machine.SwitchMode(active, mode)
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		if !changed && mode == models.ModeProductSpecific {
			fmt.Fprintln(r.out, "Please select a product first.")
			return false
		}
		r.printSince(active, before)
	case "/products":
		products := r.latestProducts()
		if len(products) == 0 {
			fmt.Fprintln(r.out, "No products to show.")
		}
		for i, p := range products {
			fmt.Fprintf(r.out, "%d. %s\n", i+1, p.Label())
		}
	case "/select":
		products := r.latestProducts()
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(products) {
			fmt.Fprintln(r.out, "Usage: /select N (see /products)")
			return false
		}
		before := r.lastID(active)
		r.machine.SelectProduct(active, &products[n-1])
		r.printSince(active, before)
	case "/deselect":
		before := r.lastID(active)
		r.machine.DeselectProduct(active)
		r.printSince(active, before)
	case "/show":
		msg, ok := r.latestWithProducts()
		if !ok {
			fmt.Fprintln(r.out, "No products to show.")
			return false
		}
		r.machine.ToggleProductDisplay(active, msg.ID)
		if !msg.ShowProducts {
			r.printProducts(msg.Products)
		} else {
			fmt.Fprintln(r.out, "Product details hidden.")
		}
	case "/examples":
		st, _ := r.machine.Snapshot(active)
		r.printExamples(session.Examples(st.Mode))
	case "/ex":
		st, _ := r.machine.Snapshot(active)
		examples := session.Examples(st.Mode)
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(examples) {
			fmt.Fprintln(r.out, "Usage: /ex N (see /examples)")
			return false
		}
		r.print(r.exampleReply(ctx, examples[n-1]))
	case "/search":
		if arg == "" {
			fmt.Fprintln(r.out, "Usage: /search QUERY")
			return false
		}
		resp, err := r.client.Search(ctx, arg)
		if err != nil {
			fmt.Fprintf(r.out, "Search failed: %v\n", err)
			return false
		}
		if resp.Message != "" {
			fmt.Fprintln(r.out, resp.Message)
		}
		r.printProducts(resp.Products)
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", name)
	}
	return false
}

func (r *repl) submit(ctx context.Context, text string) {
	reply, err := r.coord.Submit(ctx, dispatch.SessionContext{ThreadID: r.reg.Active()}, text)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	r.print(reply.Response)
}

func (r *repl) exampleReply(ctx context.Context, text string) models.Message {
	reply, err := r.coord.SubmitExample(ctx, text)
	if err != nil {
		return models.ErrorMessage(err.Error())
	}
	return reply.Response
}

func (r *repl) threadAt(arg string) (models.Thread, bool) {
	threads := r.reg.Threads()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(threads) {
		fmt.Fprintln(r.out, "No such thread. See /threads.")
		return models.Thread{}, false
	}
	return threads[n-1], true
}

func (r *repl) lastID(threadID string) int64 {
	st, _ := r.machine.Snapshot(threadID)
	if len(st.Messages) == 0 {
		return 0
	}
	return st.Messages[len(st.Messages)-1].ID
}

// printSince prints the messages appended after the message with id after.
func (r *repl) printSince(threadID string, after int64) {
	st, _ := r.machine.Snapshot(threadID)
	for _, m := range st.Messages {
		if m.ID > after {
			r.print(m)
		}
	}
}

func (r *repl) latestWithProducts() (models.Message, bool) {
	st, _ := r.machine.Snapshot(r.reg.Active())
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if len(st.Messages[i].Products) > 0 {
			return st.Messages[i], true
		}
	}
	return models.Message{}, false
}

func (r *repl) latestProducts() []models.Product {
	msg, _ := r.latestWithProducts()
	return msg.Products
}

func (r *repl) printThread() {
	active := r.reg.Active()
	t, _ := r.reg.Get(active)
	st, _ := r.machine.Snapshot(active)
	fmt.Fprintf(r.out, "== %s ==\n", t.Name)
	for _, m := range st.Messages {
		r.print(m)
	}
}

func (r *repl) print(m models.Message) {
	switch m.Kind {
	case models.KindSystem:
		fmt.Fprintf(r.out, "» %s\n", m.Content)
		r.printExamples(m.Examples)
	case models.KindUser:
		fmt.Fprintf(r.out, "you> %s\n", m.Content)
	case models.KindAssistant:
		fmt.Fprintf(r.out, "assistant> %s\n", m.Content)
		if n := len(m.Products); n > 0 {
			fmt.Fprintf(r.out, "  (%d product(s), /show for details, /select N to discuss)\n", n)
		}
	case models.KindError:
		fmt.Fprintf(r.out, "! %s\n", m.Content)
	}
}

func (r *repl) printExamples(examples []string) {
	for i, ex := range examples {
		fmt.Fprintf(r.out, "  %d) %s\n", i+1, ex)
	}
}

func (r *repl) printProducts(products []models.Product) {
	for i, p := range products {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, p.Label())
	}
}

var errUnknownMode = errors.New("unknown mode; use general, search or specific")

func parseModeArg(arg string) (models.Mode, error) {
	switch strings.ToLower(arg) {
	case "general":
		return models.ModeGeneral, nil
	case "search", "product_search":
		return models.ModeProductSearch, nil
	case "specific", "product_specific":
		return models.ModeProductSpecific, nil
	}
	return "", errUnknownMode
}
