package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ticketboard/internal/api"
	"github.com/kalambet/ticketboard/internal/config"
	"github.com/kalambet/ticketboard/internal/ticket"
)

// --- board ---

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show tickets grouped into board columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := loadBoard(cmd)
		if err != nil {
			return err
		}
		writeBoard(cmd.OutOrStdout(), board.Columns())
		return nil
	},
}

// --- tickets ---

var ticketsCmd = &cobra.Command{
	Use:     "tickets",
	Aliases: []string{"ticket", "t"},
	Short:   "List and change tickets",
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("json")

		var filter ticket.Status
		if statusFlag != "" {
			st, err := ticket.ParseStatus(statusFlag)
			if err != nil {
				return err
			}
			filter = st
		}

		board, err := loadBoard(cmd)
		if err != nil {
			return err
		}
		tickets := board.Snapshot()
		if filter != "" {
			filtered := tickets[:0]
			for _, t := range tickets {
				if t.Status == filter {
					filtered = append(filtered, t)
				}
			}
			tickets = filtered
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tickets)
		}
		if len(tickets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tickets.")
			return nil
		}
		return writeTickets(cmd.OutOrStdout(), tickets)
	},
}

var ticketsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStoreClient()
		if err != nil {
			return err
		}
		t, err := client.Get(cmd.Context(), args[0])
		if err != nil {
			return errors.New(describeFailure(err))
		}
		writeTicket(cmd.OutOrStdout(), t)
		return nil
	},
}

var ticketsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new ticket",
	Long: `Open a new ticket.

Examples:
  ticketboard tickets create --title "VPN down" --description "cannot connect from home" --assignee net-team
  ticketboard tickets create --title "New laptop" --description "for onboarding" --assignee it --priority high`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		assignee, _ := cmd.Flags().GetString("assignee")
		priority, _ := cmd.Flags().GetString("priority")
		status, _ := cmd.Flags().GetString("status")

		f := ticket.Fields{
			Title:       title,
			Description: description,
			Assignee:    assignee,
			Priority:    userPriority(priority),
			Status:      userStatus(status),
		}.Normalize()
		if err := f.Validate(); err != nil {
			return err
		}

		client, err := newStoreClient()
		if err != nil {
			return err
		}
		board := newBoard(client)
		t, err := board.Create(cmd.Context(), f)
		if err != nil {
			return errReported
		}

		printSuccess("Created ticket %s in %s", t.ID, t.Status.Label())
		fmt.Fprintln(cmd.OutOrStdout(), t.ID)
		return nil
	},
}

var ticketsMoveCmd = &cobra.Command{
	Use:   "move <status> <id>...",
	Short: "Move tickets to another column",
	Long: `Move one or more tickets to another column. Moves are sent concurrently;
a move the store refuses leaves that ticket where it was.

Statuses: pending, in_progress, in_testing, done, archived.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := ticket.ParseStatus(args[0])
		if err != nil {
			return err
		}
		ids := args[1:]

		board, err := loadBoard(cmd)
		if err != nil {
			return err
		}

		var failed atomic.Int32
		g, ctx := errgroup.WithContext(cmd.Context())
		for _, id := range ids {
			g.Go(func() error {
				before, _ := board.Get(id)
				t, err := board.Move(ctx, id, status)
				if err != nil {
					failed.Add(1)
					return nil
				}
				if before.Status == status {
					printWarning("ticket %s is already in %s", id, status.Label())
					return nil
				}
				printSuccess("Moved ticket %s to %s", t.ID, t.Status.Label())
				return nil
			})
		}
		g.Wait()

		if n := failed.Load(); n > 0 {
			return fmt.Errorf("%d of %d moves failed", n, len(ids))
		}
		return nil
	},
}

var ticketsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a ticket's fields",
	Long: `Change a ticket's fields. Only the flags you pass are changed.

Example:
  ticketboard tickets edit 42 --priority high --assignee desk-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := loadBoard(cmd)
		if err != nil {
			return err
		}
		cur, ok := board.Get(args[0])
		if !ok {
			return fmt.Errorf("ticket %s not found", args[0])
		}

		f := cur.Fields()
		flags := cmd.Flags()
		if flags.Changed("title") {
			f.Title, _ = flags.GetString("title")
		}
		if flags.Changed("description") {
			f.Description, _ = flags.GetString("description")
		}
		if flags.Changed("assignee") {
			f.Assignee, _ = flags.GetString("assignee")
		}
		if flags.Changed("priority") {
			p, _ := flags.GetString("priority")
			f.Priority = userPriority(p)
		}
		if flags.Changed("status") {
			s, _ := flags.GetString("status")
			f.Status = userStatus(s)
		}
		f = f.Normalize()
		if err := f.Validate(); err != nil {
			return err
		}

		t, err := board.Edit(cmd.Context(), cur.WithFields(f))
		if err != nil {
			return errReported
		}
		printSuccess("Updated ticket %s", t.ID)
		return nil
	},
}

var ticketsDeleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete tickets",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := loadBoard(cmd)
		if err != nil {
			return err
		}

		failures := 0
		for _, id := range args {
			if err := board.Delete(cmd.Context(), id); err != nil {
				failures++
				continue
			}
			printSuccess("Deleted ticket %s", id)
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d deletes failed", failures, len(args))
		}
		return nil
	},
}

var ticketsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a ticket's recorded changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newStoreClient()
		if err != nil {
			return err
		}
		entries, err := client.History(cmd.Context(), args[0], limit)
		if err != nil {
			return errors.New(describeFailure(err))
		}
		return writeHistory(cmd.OutOrStdout(), entries)
	},
}

// userPriority and userStatus accept the lenient spellings the parsers
// allow and otherwise pass the raw value through for Validate to report.
func userPriority(s string) ticket.Priority {
	if s == "" {
		return ""
	}
	if p, err := ticket.ParsePriority(s); err == nil {
		return p
	}
	return ticket.Priority(s)
}

func userStatus(s string) ticket.Status {
	if s == "" {
		return ""
	}
	if st, err := ticket.ParseStatus(s); err == nil {
		return st
	}
	return ticket.Status(s)
}

func addFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "short summary")
	cmd.Flags().String("description", "", "what is wrong")
	cmd.Flags().String("assignee", "", "person responsible")
	cmd.Flags().String("priority", "", "low, medium or high (default medium)")
	cmd.Flags().String("status", "", "initial column (default pending)")
}

func init() {
	ticketsListCmd.Flags().String("status", "", "only list tickets in this column")
	ticketsListCmd.Flags().Bool("json", false, "print tickets as JSON")
	addFieldFlags(ticketsCreateCmd)
	addFieldFlags(ticketsEditCmd)
	ticketsHistoryCmd.Flags().Int("limit", 50, "maximum number of entries")

	ticketsCmd.AddCommand(ticketsListCmd)
	ticketsCmd.AddCommand(ticketsShowCmd)
	ticketsCmd.AddCommand(ticketsCreateCmd)
	ticketsCmd.AddCommand(ticketsMoveCmd)
	ticketsCmd.AddCommand(ticketsEditCmd)
	ticketsCmd.AddCommand(ticketsDeleteCmd)
	ticketsCmd.AddCommand(ticketsHistoryCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the board to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := loadBoard(cmd)
		if err != nil {
			return err
		}

		mcpSrv := api.NewMCPServer(api.MCPDeps{Board: board})
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
