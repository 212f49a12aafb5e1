package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tabguard/internal/config"
	"tabguard/internal/logger"
	"tabguard/internal/service"
)

// app 子命令共享的运行期对象
type app struct {
	cfgFile string
	cfg     *config.Config
	log     logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tabguard",
		Short:         "Per-tab request blocking for browser hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(logger.Options{
				Level:      cfg.Log.Level,
				Writer:     cfg.Log.Writer,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
				Compress:   cfg.Log.Compress,
			})
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml)")
	root.AddCommand(newCDPCmd(a), newProxyCmd(a), newBlocksCmd(a))
	return root
}

// run 创建服务并在收到中断信号或 fn 返回后关闭
func (a *app) run(fn func(ctx context.Context, svc *service.Service) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(a.cfg, a.log)
	if err != nil {
		return err
	}
	runErr := fn(ctx, svc)
	if err := svc.Close(context.Background()); err != nil {
		a.log.Err(err, "服务关闭失败")
	}
	return runErr
}
