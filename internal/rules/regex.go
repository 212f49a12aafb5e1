package rules

import (
	"regexp"
	"sync"
)

type regexpCache struct {
	m sync.Map
}

// Get 获取编译后的正则，编译失败的结果同样缓存
func (c *regexpCache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		e := v.(regexEntry)
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	c.m.Store(pattern, regexEntry{re: re, err: err})
	return re, err
}

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

var regexCache regexpCache
