// Package rules 基于配置规则集的过滤客户端，提供拦截判定、白名单和元素隐藏规则查询。
package rules

import (
	"net/url"
	"strings"
	"sync"

	"tabguard/internal/logger"
	"tabguard/pkg/model"
)

// Engine 规则引擎，规则集可在运行期整体替换
type Engine struct {
	mu    sync.RWMutex
	rs    model.RuleSet
	rules []compiledRule
	log   logger.Logger

	statsMu sync.Mutex
	stats   model.EngineStats
}

type compiledRule struct {
	model.Rule
	types    map[model.ContentType]struct{}
	include  []string
	exclude  []string
	wildcard bool
}

// New 创建规则引擎
func New(rs model.RuleSet, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	e := &Engine{log: l}
	e.Update(rs)
	return e
}

// Update 替换规则集并清零统计
func (e *Engine) Update(rs model.RuleSet) {
	compiled := make([]compiledRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		compiled = append(compiled, compile(r, e.log))
	}

	e.mu.Lock()
	e.rs = rs
	e.rules = compiled
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats = model.EngineStats{ByRule: make(map[model.RuleID]int64)}
	e.statsMu.Unlock()
	e.log.Info("规则集已加载", "rules", len(rs.Rules), "hide", len(rs.Hide))
}

func compile(r model.Rule, l logger.Logger) compiledRule {
	c := compiledRule{Rule: r, wildcard: len(r.ContentTypes) == 0}
	if !c.wildcard {
		c.types = make(map[model.ContentType]struct{}, len(r.ContentTypes))
		for _, name := range r.ContentTypes {
			ct, ok := model.ParseContentType(name)
			if !ok {
				l.Warn("未知内容类型", "rule", string(r.ID), "type", name)
				continue
			}
			c.types[ct] = struct{}{}
		}
	}
	for _, d := range r.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if strings.HasPrefix(d, "~") {
			c.exclude = append(c.exclude, strings.TrimPrefix(d, "~"))
		} else if d != "" {
			c.include = append(c.include, d)
		}
	}
	return c
}

// ShouldBlock 判定请求是否拦截，任一例外规则命中即放行
func (e *Engine) ShouldBlock(rawURL string, ct model.ContentType, documentDomain string, debug bool) bool {
	domain := normalizeDomain(documentDomain)
	e.mu.RLock()
	var hit *compiledRule
	excepted := false
	for i := range e.rules {
		r := &e.rules[i]
		if !r.applies(rawURL, ct, domain) {
			continue
		}
		if r.Exception {
			excepted = true
			break
		}
		if hit == nil {
			hit = r
		}
	}
	e.mu.RUnlock()

	blocked := hit != nil && !excepted

	e.statsMu.Lock()
	e.stats.Total++
	if blocked {
		e.stats.Blocked++
		e.stats.ByRule[hit.ID]++
	}
	e.statsMu.Unlock()

	if debug && hit != nil {
		e.log.Debug("规则命中", "url", rawURL, "rule", string(hit.ID), "contentType", ct.String(),
			"domain", documentDomain, "excepted", excepted)
	}
	return blocked
}

func (r *compiledRule) applies(rawURL string, ct model.ContentType, domain string) bool {
	if !r.wildcard {
		if _, ok := r.types[ct]; !ok {
			return false
		}
	}
	if !r.domainMatches(domain) {
		return false
	}
	return matchURL(rawURL, r.Pattern, r.Mode)
}

func (r *compiledRule) domainMatches(domain string) bool {
	for _, d := range r.exclude {
		if isSubdomain(domain, d) {
			return false
		}
	}
	if len(r.include) == 0 {
		return true
	}
	for _, d := range r.include {
		if isSubdomain(domain, d) {
			return true
		}
	}
	return false
}

// normalizeDomain Referer 为完整 URL 时取主机名
func normalizeDomain(s string) string {
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			return strings.ToLower(u.Hostname())
		}
	}
	return strings.ToLower(s)
}

func isSubdomain(domain, parent string) bool {
	return domain == parent || strings.HasSuffix(domain, "."+parent)
}

// IsWhitelistedURL 文档是否在白名单内
func (e *Engine) IsWhitelistedURL(rawURL string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return matchAny(rawURL, e.rs.Whitelist)
}

// IsElemhideWhitelistedOnDomain 文档是否禁用元素隐藏
func (e *Engine) IsElemhideWhitelistedOnDomain(rawURL string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return matchAny(rawURL, e.rs.ElemhideWhitelist)
}

// GetElementHidingSelectors 返回通用规则与该域名（含父域名）规则的选择器
func (e *Engine) GetElementHidingSelectors(domain string) []string {
	domain = strings.ToLower(domain)
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	seen := make(map[string]struct{})
	for _, h := range e.rs.Hide {
		d := strings.ToLower(h.Domain)
		if d != "" && !isSubdomain(domain, d) {
			continue
		}
		if _, ok := seen[h.Selector]; ok {
			continue
		}
		seen[h.Selector] = struct{}{}
		out = append(out, h.Selector)
	}
	return out
}

// GetHostFromURL 提取主机名，无法解析时返回空串
func (e *Engine) GetHostFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Stats 统计快照
func (e *Engine) Stats() model.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := model.EngineStats{Total: e.stats.Total, Blocked: e.stats.Blocked, ByRule: make(map[model.RuleID]int64, len(e.stats.ByRule))}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

func matchAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if glob(s, p) {
			return true
		}
	}
	return false
}

func matchURL(s, pattern, mode string) bool {
	switch mode {
	case "prefix":
		return strings.HasPrefix(s, pattern)
	case "regex":
		return matchRegex(s, pattern)
	case "exact":
		return s == pattern
	default:
		return glob(s, pattern)
	}
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// glob "*" 匹配任意字符序列，不含 "*" 时按子串匹配
func glob(s, pattern string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return strings.Contains(s, pattern)
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}
