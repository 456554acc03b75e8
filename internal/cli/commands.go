// Package cli implements the operator console: tables of who is online,
// open matches and channels, plus notify, kick and quit.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/match"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	presences *presence.Registry
	matches   *match.Manager
	channels  *channel.Manager
	bus       *events.Bus

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(presences *presence.Registry, matches *match.Manager, channels *channel.Manager, bus *events.Bus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		presences: presences,
		matches:   matches,
		channels:  channels,
		bus:       bus,
		in:        in,
		out:       out,
	}
}

// Start runs the command loop until input ends or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nYume console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "yume> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "online", "o":
		c.printOnline()
	case "matches", "m":
		c.printMatches()
	case "channels", "c":
		c.printChannels()
	case "stats":
		return c.printStats()
	case "notify":
		return c.cmdNotify(args)
	case "kick":
		return c.cmdKick(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Yume...")
		log.Info().Msg("shutdown requested from console")
		c.bus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  online             List online users
  matches            List open multiplayer matches
  channels           List chat channels
  stats              Show process resource usage
  notify <text>      Send a notification to everyone online
  kick <username>    Disconnect a user
  quit               Shut down Yume
  help               Show this help message`)
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printOnline() {
	tw := c.table([]string{"ID", "Username", "Country", "Action", "Mode", "PP", "Rank", "Idle"})
	now := time.Now()
	for _, p := range c.presences.All() {
		status := p.Status()
		stats := p.Stats()
		idle := now.Sub(p.LastActive()).Truncate(time.Second).String()
		if p.Bot {
			idle = "-"
		}
		tw.Append([]string{
			fmt.Sprintf("%d", p.ID),
			p.Username,
			p.Country,
			status.Action.String(),
			status.Mode.String(),
			fmt.Sprintf("%d", stats.Performance),
			fmt.Sprintf("%d", stats.Rank),
			idle,
		})
	}
	tw.Render()
}

func (c *CLI) printMatches() {
	tw := c.table([]string{"ID", "Name", "Host", "State", "Players"})
	for _, m := range c.matches.List() {
		tw.Append([]string{
			fmt.Sprintf("%d", m.ID),
			m.Name(),
			fmt.Sprintf("%d", m.HostID()),
			m.State().String(),
			fmt.Sprintf("%d", len(m.Players())),
		})
	}
	tw.Render()
}

func (c *CLI) printChannels() {
	tw := c.table([]string{"Name", "Topic", "Members"})
	for _, ch := range c.channels.List() {
		tw.Append([]string{ch.Name, ch.Topic, fmt.Sprintf("%d", ch.Count())})
	}
	tw.Render()
}

func (c *CLI) printStats() error {
	usage, err := util.GetProcessUsage()
	if err != nil {
		return err
	}
	tw := c.table([]string{"CPU %", "RSS MB", "Goroutines", "Online"})
	tw.Append([]string{
		fmt.Sprintf("%.1f", usage.CPUPercent),
		fmt.Sprintf("%d", usage.RSSMB),
		fmt.Sprintf("%d", usage.Goroutines),
		fmt.Sprintf("%d", c.presences.Count()),
	})
	tw.Render()
	return nil
}

func (c *CLI) cmdNotify(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: notify <text>")
	}
	text := strings.Join(args, " ")
	c.presences.Broadcast([]protocol.Packet{protocol.Notification(text)})
	fmt.Fprintf(c.out, "Notified %d users\n", c.presences.Count())
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: kick <username>")
	}
	name := strings.Join(args, " ")
	p, ok := c.presences.GetByName(name)
	if !ok {
		return fmt.Errorf("%s is not online", name)
	}
	if p.Bot {
		return fmt.Errorf("cannot kick the bot")
	}
	c.presences.Terminate(p, events.LogoutKicked)
	fmt.Fprintf(c.out, "Kicked %s\n", p.Username)
	return nil
}
