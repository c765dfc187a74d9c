package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dshills/recode/internal/app"
	"github.com/dshills/recode/internal/dfstate"
)

// errQuit is returned by the console when the user asks to exit.
var errQuit = errors.New("quit")

const consoleHelp = `Commands:
  /join <node>                 join a node
  /leave                       leave the current node
  /plot <id> <play|build|dev>  report the player on a plot
  /spawn                       report the player at spawn
  /send <message>              run a message through the send chat hook
  /tick                        run one client tick now
  /enable <module>             enable a module
  /disable <module>            disable a module
  /status                      show state, modules and metrics
  /quit                        exit
Anything else is received as chat.`

// console executes lines typed at the run prompt.
type console struct {
	app *app.Application
	out io.Writer
}

func (c *console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		handled, err := c.app.ReceiveChat(ctx, line)
		if err != nil {
			return err
		}
		if handled {
			c.printState()
		}
		return nil
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/help":
		fmt.Fprintln(c.out, consoleHelp)
	case "/quit", "/exit":
		return errQuit
	case "/join":
		if len(args) != 1 {
			return errors.New("usage: /join <node>")
		}
		if err := c.app.Join(ctx, dfstate.NodeByName(args[0])); err != nil {
			return err
		}
		c.printState()
	case "/leave":
		if err := c.app.Leave(ctx); err != nil {
			return err
		}
		c.printState()
	case "/plot":
		return c.plot(ctx, args)
	case "/spawn":
		cur := c.app.State()
		if cur == nil {
			return app.ErrNotConnected
		}
		c.app.SetLocation(dfstate.LocateState{Node: cur.Node})
		return c.tick(ctx)
	case "/send":
		msg := strings.TrimSpace(strings.TrimPrefix(line, name))
		if out := c.app.SendChat(msg); out != "" {
			fmt.Fprintf(c.out, "> %s\n", out)
		} else {
			fmt.Fprintln(c.out, "(dropped)")
		}
	case "/tick":
		return c.tick(ctx)
	case "/enable", "/disable":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <module>", name)
		}
		if err := c.app.Modules().SetEnabled(ctx, args[0], name == "/enable"); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %sd\n", args[0], strings.TrimPrefix(name, "/"))
	case "/status":
		return c.printStatus()
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func (c *console) plot(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: /plot <id> <play|build|dev>")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid plot id %q", args[0])
	}
	mode, err := parseMode(args[1])
	if err != nil {
		return err
	}
	cur := c.app.State()
	if cur == nil {
		return app.ErrNotConnected
	}
	c.app.SetLocation(dfstate.LocateState{
		Node: cur.Node,
		Plot: &dfstate.Plot{ID: uint32(id)},
		Mode: mode,
	})
	return c.tick(ctx)
}

func (c *console) tick(ctx context.Context) error {
	if err := c.app.Tick(ctx); err != nil {
		return err
	}
	c.printState()
	return nil
}

func parseMode(s string) (dfstate.ModeID, error) {
	switch strings.ToLower(s) {
	case "play", "playing":
		return dfstate.ModePlay, nil
	case "build", "building":
		return dfstate.ModeBuild, nil
	case "dev", "code", "coding":
		return dfstate.ModeDev, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (must be play, build or dev)", s)
	}
}

func (c *console) printState() {
	fmt.Fprintln(c.out, describeState(c.app.State()))
}

func describeState(s *dfstate.State) string {
	switch {
	case s == nil:
		return "not connected"
	case !s.OnPlot():
		return fmt.Sprintf("%s, at spawn", s.Node.DisplayName())
	}
	desc := fmt.Sprintf("%s, plot %d", s.Node.DisplayName(), s.Plot.ID)
	if s.Mode != nil {
		desc += ", " + s.Mode.ID.Descriptor()
	}
	if s.Session != dfstate.SessionNone {
		desc += ", support " + s.Session.String()
	}
	return desc
}

func (c *console) printStatus() error {
	st, err := c.app.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "State:   %s\n", describeState(st.State))

	mods := make([]string, 0, len(st.Modules))
	for _, m := range st.Modules {
		mark := "-"
		if m.Enabled {
			mark = "+"
		}
		mods = append(mods, mark+m.Name)
	}
	fmt.Fprintf(c.out, "Modules: %s\n", strings.Join(mods, " "))
	fmt.Fprintf(c.out, "Scripts: %d loaded, hooks %s\n", len(st.Scripts), strings.Join(st.Hooks, ", "))
	fmt.Fprintf(c.out, "Ticks:   %d (avg %v, %d errors)\n", st.Metrics.Ticks, st.Metrics.AvgTick, st.Metrics.TickErrors)
	fmt.Fprintf(c.out, "Chat:    %d received, %d handled\n", st.Metrics.Chats, st.Metrics.ChatsHandled)
	fmt.Fprintf(c.out, "Locate:  %d hits, %d misses, %d refreshes, passes %d\n",
		st.Locate.Hits, st.Locate.Misses, st.Locate.Refreshes, st.Locate.Passes)
	fmt.Fprintf(c.out, "Loop:    %d executed, %d queued\n", st.Loop.Executed, st.Loop.Queued)
	return nil
}
