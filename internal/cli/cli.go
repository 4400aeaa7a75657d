// Package cli implements the interactive admin console: live registry
// inspection and manual eviction from the terminal the daemon runs in.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/bf2statistics/battlespy/internal/events"
	"github.com/bf2statistics/battlespy/internal/geoip"
	"github.com/bf2statistics/battlespy/internal/registry"
)

// CLI provides the interactive command loop.
type CLI struct {
	registry *registry.Registry
	bus      *events.Bus
	geo      *geoip.Provider
}

// NewCLI creates a CLI handler. geo may be nil.
func NewCLI(reg *registry.Registry, bus *events.Bus, geo *geoip.Provider) *CLI {
	return &CLI{
		registry: reg,
		bus:      bus,
		geo:      geo,
	}
}

// Start runs the command loop until stdin closes or the context ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nBattleSpy console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("battlespy> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "servers", "list":
		c.printServers()
	case "evict":
		return c.cmdEvict(ctx, args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down BattleSpy...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println(`Commands:
  status              registry counts
  servers             list validated servers
  evict <ip:port>     remove a server by query address
  quit                shut down the master server`)
}

func (c *CLI) printStatus() {
	total, validated := c.registry.Count()
	fmt.Printf("servers: %d registered, %d validated\n", total, validated)
}

func (c *CLI) printServers() {
	snapshot := c.registry.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("no validated servers")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Address", "Hostname", "Map", "Players", "Ranked", "Country", "Last Seen"})
	for i := range snapshot {
		s := &snapshot[i]
		country := ""
		if c.geo != nil {
			country = c.geo.CountryCode(s.IP)
		}
		table.Append([]string{
			s.Key(),
			s.Hostname,
			s.MapName,
			fmt.Sprintf("%d/%d", s.NumPlayers, s.MaxPlayers),
			boolMark(s.Ranked),
			country,
			time.Since(s.LastRefreshed).Truncate(time.Second).String() + " ago",
		})
	}
	table.Render()
}

func (c *CLI) cmdEvict(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: evict <ip:port>")
	}
	host, portStr, err := net.SplitHostPort(args[0])
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	if _, ok := c.registry.Remove(ctx, host, uint16(port)); !ok {
		return fmt.Errorf("no server registered at %s", args[0])
	}
	fmt.Printf("evicted %s\n", args[0])
	return nil
}

func boolMark(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
