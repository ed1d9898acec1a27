package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tunnelmesh/aaarepl/internal/config"
	"github.com/tunnelmesh/aaarepl/internal/control"
)

var socketPath string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the running node",
		Long: `Show the running node's counters and connection table.

The node is reached over its local control socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(resolveSocketPath())

			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			conns, err := client.Connections()
			if err != nil {
				return fmt.Errorf("failed to list connections: %w", err)
			}

			out := cmd.OutOrStdout()
			printStatus(out, status)
			_, _ = fmt.Fprintln(out)
			printConnections(out, conns)
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "Control socket path (default: control_socket from --config)")
	return cmd
}

func newDialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dial <host:port>",
		Short: "Ask the running node to connect to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(resolveSocketPath())

			resp, err := client.Dial(args[0])
			if err != nil {
				return fmt.Errorf("dial %s: %w", args[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Connected %s (id %s)\n", resp.Key, resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "Control socket path (default: control_socket from --config)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "check <user> <verb> <resource>",
		Short: "Check a user's access against the running node's AAA store",
		Long: `Ask the running node whether a user may perform a verb on a resource.

The answer comes from the node's replicated users, roles and grants. The
command exits non-zero when access is denied.

Examples:
  aaarepl check alice create users --domain sdn
  aaarepl check svc:radius list grants`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(resolveSocketPath())

			resp, err := client.Check(control.CheckRequest{
				User:     args[0],
				Verb:     args[1],
				Resource: args[2],
				Domain:   domain,
			})
			if err != nil {
				return fmt.Errorf("failed to check access: %w", err)
			}

			out := cmd.OutOrStdout()
			roles := "-"
			if len(resp.Roles) > 0 {
				roles = strings.Join(resp.Roles, ",")
			}
			_, _ = fmt.Fprintf(out, "Roles: %s  Admin: %t\n", roles, resp.Admin)
			if !resp.Allowed {
				_, _ = fmt.Fprintf(out, "denied: %s\n", resp.Reason)
				return fmt.Errorf("access denied for %s", args[0])
			}
			_, _ = fmt.Fprintln(out, "allowed")
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Domain name the access applies to")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Control socket path (default: control_socket from --config)")
	return cmd
}

// resolveSocketPath prefers --socket, then the config file, then the default.
func resolveSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	if cfgFile != "" {
		if cfg, err := config.Load(cfgFile); err == nil && cfg.ControlSocketEnabled() {
			return cfg.ControlSocket
		}
	}
	return control.DefaultSocketPath()
}

func printStatus(w io.Writer, s *control.StatusResponse) {
	_, _ = fmt.Fprintf(w, "Node:        %s\n", s.Node)
	_, _ = fmt.Fprintf(w, "Version:     %s\n", s.Version)
	_, _ = fmt.Fprintf(w, "Listen:      %s\n", s.Listen)
	_, _ = fmt.Fprintf(w, "Uptime:      %s\n", s.Uptime)
	_, _ = fmt.Fprintf(w, "Connections: %d", s.Connections)

	states := make([]string, 0, len(s.ByState))
	for state := range s.ByState {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		_, _ = fmt.Fprintf(w, " %s=%d", state, s.ByState[state])
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Published:   %d (%d failed, %d evicted)\n", s.Stats.Published, s.Stats.PublishFailures, s.Stats.Evicted)
	_, _ = fmt.Fprintf(w, "Accepted:    %d  Dialed: %d (%d failed)  Duplicates: %d\n",
		s.Stats.Accepted, s.Stats.Dialed, s.Stats.DialFailures, s.Stats.Duplicates)
	if s.HumanAdmin != nil && !*s.HumanAdmin {
		_, _ = fmt.Fprintln(w, "Warning:     no enabled human admin in the replicated store")
	}
}

func printConnections(w io.Writer, conns []control.ConnectionDetail) {
	if len(conns) == 0 {
		_, _ = fmt.Fprintln(w, "No connections")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "REMOTE\tDIRECTION\tSTATE\tSINCE\tQUEUED\tRECV\tSENT\tAPPLIED\tDROPPED\n")
	for _, c := range conns {
		since := "-"
		if c.OpenedAt > 0 {
			since = time.Since(time.Unix(c.OpenedAt, 0)).Truncate(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			c.Remote, c.Direction, c.State, since, c.QueueDepth,
			c.Stats.FramesReceived, c.Stats.FramesSent, c.Stats.Applied, c.Stats.Dropped)
	}
	_ = tw.Flush()
}
