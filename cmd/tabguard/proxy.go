package main

import (
	"context"

	"github.com/spf13/cobra"

	"tabguard/internal/proxy"
	"tabguard/internal/service"
)

func newProxyCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a filtering HTTP proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Proxy.Addr = addr
			}
			return a.run(func(ctx context.Context, svc *service.Service) error {
				srv := proxy.New(proxy.Config{
					Addr:    a.cfg.Proxy.Addr,
					Handler: svc.Handler(),
					Tabs:    svc.Tabs(),
					Logger:  a.log,
				})
				return srv.ListenAndServe(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides proxy.addr)")
	return cmd
}
