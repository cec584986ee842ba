package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/farmmemory/internal/engine"
	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		msg  types.Message
		role string
		meta map[string]string
	)
	cmd := &cobra.Command{
		Use:   "record [content]",
		Short: "Store a conversation turn and index it for retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg.Content = strings.Join(args, " ")
			msg.Role = types.Role(role)
			if len(meta) > 0 {
				msg.Metadata = make(map[string]interface{}, len(meta))
				for k, v := range meta {
					msg.Metadata[k] = v
				}
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				res, err := a.recorder.Record(ctx, &msg)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&msg.SessionID, "session", "", "session id (required)")
	f.StringVar(&msg.UserID, "user", "", "farmer user id (required)")
	f.StringVar(&role, "role", string(types.RoleUser), "message author: user or assistant")
	f.StringVar(&msg.ID, "id", "", "message id (generated when empty)")
	f.IntVar(&msg.TokenCount, "tokens", 0, "tokens reported by the generation service")
	f.StringVar(&msg.ModelID, "model", "", "model that produced an assistant message")
	f.StringToStringVar(&meta, "meta", nil, "metadata key=value pairs")
	return cmd
}

// contextOutput is printed by the context command when --trace is set.
type contextOutput struct {
	Context *types.IntelligentContext `json:"context"`
	Trace   *engine.RetrievalTrace    `json:"trace"`
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		co     engine.ComposeOptions
		trace  bool
	)
	cmd := &cobra.Command{
		Use:   "context [message]",
		Short: "Compose the memory context for a new farmer message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("user", userID); err != nil {
				return err
			}
			query := strings.Join(args, " ")
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if !trace {
					return writeJSON(cmd.OutOrStdout(), a.composer.Compose(ctx, userID, query, co))
				}
				tc := engine.NewTraceCollector()
				ic := a.composer.Compose(engine.WithTraceCollector(ctx, tc), userID, query, co)
				return writeJSON(cmd.OutOrStdout(), contextOutput{
					Context: ic,
					Trace:   engine.BuildRetrievalTrace(tc.Events(), tc.ElapsedMS()),
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "farmer user id (required)")
	f.IntVar(&co.MaxMemories, "max", 0, "maximum memories to return (default from config)")
	f.BoolVar(&co.SkipInsights, "skip-insights", false, "do not mine insights")
	f.BoolVar(&trace, "trace", false, "include a retrieval trace in the output")
	return cmd
}

func newInsightsCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Mine recurring topics from a farmer's recent messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("user", userID); err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return writeJSON(cmd.OutOrStdout(), a.insights.Insights(ctx, userID, limit))
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "farmer user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum insights (default from config)")
	return cmd
}

func newConsolidateCmd(opts *rootOptions) *cobra.Command {
	var sessionID, userID string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Summarize a finished conversation session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("session", sessionID); err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return writeJSON(cmd.OutOrStdout(), a.consolidator.Consolidate(ctx, sessionID, userID))
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "farmer user id")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		q      storage.MessageQuery
		role   string
		newest bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored messages for a session or farmer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Role = types.Role(role)
			if newest {
				q.Order = storage.OrderDesc
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				msgs, err := a.store.GetMessages(ctx, q)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), msgs)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.SessionID, "session", "", "session id")
	f.StringVar(&q.UserID, "user", "", "farmer user id")
	f.StringVar(&role, "role", "", "only messages by this author")
	f.IntVar(&q.Limit, "limit", 0, "maximum messages")
	f.BoolVar(&newest, "newest", false, "list newest first")
	return cmd
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update a farmer profile",
	}

	var getUser string
	get := &cobra.Command{
		Use:   "get",
		Short: "Show a farmer profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("user", getUser); err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				p, err := a.store.GetUserProfile(ctx, getUser)
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no profile for user %q", getUser)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	get.Flags().StringVar(&getUser, "user", "", "farmer user id (required)")

	var p types.UserProfile
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or merge a farmer profile; unset flags keep stored values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("user", p.UserID); err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.UpsertUserProfile(ctx, &p); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), &p)
			})
		},
	}
	f := set.Flags()
	f.StringVar(&p.UserID, "user", "", "farmer user id (required)")
	f.StringVar(&p.Name, "name", "", "farmer name")
	f.StringVar(&p.Phone, "phone", "", "phone number")
	f.StringVar(&p.Location, "location", "", "farm location")
	f.Float64Var(&p.FarmSizeAcres, "farm-size", 0, "farm size in acres")
	f.StringSliceVar(&p.CoffeeVarieties, "variety", nil, "coffee varieties grown (repeatable)")
	f.IntVar(&p.ExperienceYears, "experience", 0, "years of farming experience")
	f.StringVar(&p.PreferredLanguage, "language", "", "preferred language")

	cmd.AddCommand(get, set)
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check storage and provider connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				report := a.health(ctx)
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				for _, c := range report {
					if c.Status == "error" {
						return fmt.Errorf("%s is unhealthy", c.Name)
					}
				}
				return nil
			})
		},
	}
}
