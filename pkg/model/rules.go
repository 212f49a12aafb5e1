package model

// Rule 拦截规则
type Rule struct {
	ID           RuleID   `json:"id" yaml:"id" mapstructure:"id"`
	Pattern      string   `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Mode         string   `json:"mode" yaml:"mode" mapstructure:"mode"` // glob(默认) | prefix | exact | regex
	ContentTypes []string `json:"contentTypes" yaml:"contentTypes" mapstructure:"contentTypes"`
	Domains      []string `json:"domains" yaml:"domains" mapstructure:"domains"` // "~" 前缀表示排除
	Exception    bool     `json:"exception" yaml:"exception" mapstructure:"exception"`
}

// HideRule 元素隐藏规则，Domain 为空表示通用规则
type HideRule struct {
	Domain   string `json:"domain" yaml:"domain" mapstructure:"domain"`
	Selector string `json:"selector" yaml:"selector" mapstructure:"selector"`
}

// RuleSet 规则集
type RuleSet struct {
	Rules             []Rule     `json:"rules" yaml:"rules" mapstructure:"rules"`
	Hide              []HideRule `json:"hide" yaml:"hide" mapstructure:"hide"`
	Whitelist         []string   `json:"whitelist" yaml:"whitelist" mapstructure:"whitelist"`
	ElemhideWhitelist []string   `json:"elemhideWhitelist" yaml:"elemhideWhitelist" mapstructure:"elemhideWhitelist"`
}
