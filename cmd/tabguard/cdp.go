package main

import (
	"context"

	"github.com/spf13/cobra"

	"tabguard/internal/cdp"
	"tabguard/internal/service"
)

func newCDPCmd(a *app) *cobra.Command {
	var devtoolsURL string
	cmd := &cobra.Command{
		Use:   "cdp",
		Short: "Attach to a Chrome DevTools endpoint and filter every page target",
		RunE: func(cmd *cobra.Command, args []string) error {
			if devtoolsURL != "" {
				a.cfg.CDP.DevToolsURL = devtoolsURL
			}
			return a.run(func(ctx context.Context, svc *service.Service) error {
				m := cdp.New(cdp.Config{
					DevToolsURL:      a.cfg.CDP.DevToolsURL,
					Handler:          svc.Handler(),
					Tabs:             svc.Tabs(),
					Pool:             svc.Pool(),
					ProcessTimeoutMS: a.cfg.CDP.ProcessTimeoutMS,
					Logger:           a.log,
				})
				n, err := m.AttachAll(ctx)
				if err != nil {
					a.log.Err(err, "部分目标附加失败")
				}
				a.log.Info("已附加页面目标", "count", n)

				<-ctx.Done()
				return m.Close(context.Background())
			})
		},
	}
	cmd.Flags().StringVar(&devtoolsURL, "devtools", "", "DevTools HTTP endpoint (overrides cdp.devToolsURL)")
	return cmd
}
