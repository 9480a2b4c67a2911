package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/primehq/prime/internal/config"
	"github.com/primehq/prime/internal/dmpolicy"
	"github.com/primehq/prime/internal/storage"
	"github.com/primehq/prime/pkg/models"
)

// openStore opens the configured database for an operator verb.
func openStore(ctx context.Context) (*storage.Store, *config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func buildPairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "List and resolve DM pairing requests",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show pending pairing requests",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, _, err := openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer store.Close()
				reqs, err := store.ListPairingRequests(cmd.Context(), models.PairingPending)
				if err != nil {
					return err
				}
				if len(reqs) == 0 {
					fmt.Println("no pending pairing requests")
					return nil
				}
				w := newTable()
				fmt.Fprintln(w, "CODE\tCHANNEL\tPEER\tSENDER\tEXPIRES")
				for _, r := range reqs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						r.Code, r.Channel, r.Peer, r.SenderName, r.ExpiresAt.Format(time.RFC3339))
				}
				return w.Flush()
			},
		},
		buildPairingDecisionCmd("approve", "Approve a pairing request by code"),
		buildPairingDecisionCmd("reject", "Reject a pairing request by code"),
	)
	return cmd
}

func buildPairingDecisionCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <code>",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("pairing %s requires exactly one code", verb)
			}
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			admin := dmpolicy.NewAdmin(store, slog.Default())
			var req *models.PairingRequest
			if verb == "approve" {
				req, err = admin.Approve(cmd.Context(), args[0])
			} else {
				req, err = admin.Deny(cmd.Context(), args[0])
			}
			switch {
			case errors.Is(err, dmpolicy.ErrCodeUnknown):
				return fmt.Errorf("unknown pairing code %q", args[0])
			case errors.Is(err, dmpolicy.ErrCodeExpired):
				return fmt.Errorf("pairing code %q has expired", args[0])
			case errors.Is(err, dmpolicy.ErrAlreadyDecided):
				return fmt.Errorf("pairing code %q was already resolved", args[0])
			case err != nil:
				return err
			}
			past := "approved"
			if verb != "approve" {
				past = "rejected"
			}
			fmt.Printf("%s pairing for %s on %s\n", past, req.Peer, req.Channel)
			return nil
		},
	}
}

func buildCronCmd() *cobra.Command {
	var agentID string
	list := &cobra.Command{
		Use:   "list",
		Short: "Show cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			jobs, err := store.ListCronJobs(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no cron jobs")
				return nil
			}
			w := newTable()
			fmt.Fprintln(w, "NAME\tSCHEDULE\tAGENT\tACTIVE\tLAST RUN")
			for _, j := range jobs {
				lastRun := "never"
				if j.LastRunAt != nil {
					lastRun = j.LastRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", j.Name, j.Schedule, j.AgentID, j.Active, lastRun)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&agentID, "agent", "", "filter by agent id")

	cmd := &cobra.Command{Use: "cron", Short: "Inspect scheduled triggers"}
	cmd.AddCommand(list)
	return cmd
}

func buildWebhooksCmd() *cobra.Command {
	var agentID string
	list := &cobra.Command{
		Use:   "list",
		Short: "Show registered webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			hooks, err := store.ListWebhooks(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			if len(hooks) == 0 {
				fmt.Println("no webhooks")
				return nil
			}
			w := newTable()
			fmt.Fprintln(w, "NAME\tPATH\tAGENT\tACTIVE")
			for _, h := range hooks {
				fmt.Fprintf(w, "%s\t/hooks/%s\t%s\t%t\n", h.Name, h.Path, h.AgentID, h.Active)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&agentID, "agent", "", "filter by agent id")

	cmd := &cobra.Command{Use: "webhooks", Short: "Inspect inbound webhooks"}
	cmd.AddCommand(list)
	return cmd
}

func buildMemoryCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect agent memories",
	}
	cmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent id (required)")

	printMemories := func(entries []models.MemoryEntry) error {
		if len(entries) == 0 {
			fmt.Println("no memories")
			return nil
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tTAGS\tUPDATED\tCONTENT")
		for _, e := range entries {
			content := e.Content
			if len(content) > 80 {
				content = content[:77] + "..."
			}
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", e.ID, e.Tags, e.UpdatedAt.Format("2006-01-02"), content)
		}
		return w.Flush()
	}

	run := func(query string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return usagef("--agent is required")
			}
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			q := query
			if len(args) > 0 {
				q = args[0]
			}
			entries, err := store.SearchMemories(cmd.Context(), agentID, q, 50)
			if err != nil {
				return err
			}
			return printMemories(entries)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List an agent's memories", RunE: run("")},
		&cobra.Command{
			Use:   "search <query>",
			Short: "Search an agent's memories",
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) != 1 {
					return usagef("memory search requires exactly one query")
				}
				return run(args[0])(cmd, nil)
			},
		},
	)
	return cmd
}

func buildNodesCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Show node executions and the approval queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			execs, err := store.ListExecutions(cmd.Context(), models.ExecutionStatus(status), 20)
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tNODE\tCOMMAND\tSTATUS")
			for _, e := range execs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.NodeID, e.Command, e.Status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			approvals, err := store.ListPendingApprovals(cmd.Context())
			if err != nil {
				return err
			}
			if len(approvals) > 0 {
				fmt.Printf("\n%d pending approval(s):\n", len(approvals))
				w = newTable()
				fmt.Fprintln(w, "ID\tCOMMAND\tRISK\tEXPIRES")
				for _, a := range approvals {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Command, a.RiskLevel, a.ExpiresAt.Format(time.RFC3339))
				}
				return w.Flush()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter executions by status")
	return cmd
}

func buildChannelsCmd() *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "Show configured bots and adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			org, err := store.GetOrganizationBySlug(cmd.Context(), defaultOrgSlug)
			if err != nil {
				return fmt.Errorf("no organization onboarded yet: %w", err)
			}
			bots, err := store.ListBots(cmd.Context(), org.ID)
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "NAME\tCHANNELS\tACTIVE")
			for _, b := range bots {
				fmt.Fprintf(w, "%s\t%v\t%t\n", b.Name, b.Channels, b.Active)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println("\nconfigured adapters:")
			fmt.Printf("  telegram: %d token(s)\n", len(cfg.Channels.Telegram.BotTokens))
			fmt.Printf("  slack: %t\n", cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "")
			fmt.Printf("  whatsapp: %t\n", cfg.Channels.WhatsApp.AccessToken != "")
			return nil
		},
	}
	cmd := &cobra.Command{Use: "channels", Short: "Inspect channel configuration"}
	cmd.AddCommand(list)
	return cmd
}
