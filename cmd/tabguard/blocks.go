package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tabguard/internal/service"
	"tabguard/pkg/model"
)

func newBlocksCmd(a *app) *cobra.Command {
	var (
		tabID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "List recorded block decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func(ctx context.Context, svc *service.Service) error {
				if svc.Store() == nil {
					return errors.New("sqlite.dsn is not configured")
				}
				recs, err := svc.Store().ListBlocks(ctx, model.TabID(tabID), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range recs {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Tab, r.ContentType, r.URL)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tabID, "tab", "", "only show this tab")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records")
	return cmd
}
