package api

import (
	"context"

	"tabguard/internal/config"
	"tabguard/internal/logger"
	"tabguard/internal/plugerr"
	"tabguard/internal/service"
	"tabguard/internal/sink"
	"tabguard/internal/tab"
	"tabguard/pkg/model"
)

// Service 服务接口
type Service interface {
	// OpenTab 打开标签页，id 为空时自动分配
	OpenTab(id model.TabID) *tab.Tab

	// CloseTab 关闭标签页
	CloseTab(ctx context.Context, id model.TabID) error

	// ListTabs 列出标签页
	ListTabs() []model.TabInfo

	// NewSink 为标签页创建拦截状态机
	NewSink(id model.TabID) *sink.Sink

	// PostError 投递插件错误
	PostError(e plugerr.PluginError)

	// LoadRules 加载规则集
	LoadRules(rs model.RuleSet)

	// Stats 获取规则统计信息
	Stats() model.EngineStats

	// Events 订阅事件
	Events() <-chan model.Event

	// Close 关闭服务
	Close(ctx context.Context) error
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
