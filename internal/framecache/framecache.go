// Package framecache 记录当前域名下已知作为子文档加载的 URL
package framecache

import "sync"

// Cache 按域名作用的帧 URL 集合
type Cache struct {
	mu     sync.RWMutex
	domain string
	frames map[string]struct{}
}

// New 创建空缓存
func New() *Cache {
	return &Cache{frames: make(map[string]struct{})}
}

// IsCached 判断 URL 是否已缓存为帧
func (c *Cache) IsCached(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.frames[url]
	return ok
}

// Insert 缓存一个帧 URL
func (c *Cache) Insert(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[url] = struct{}{}
}

// ClearIfDomainChanged 域名为空或与当前作用域不同则清空集合并替换作用域，返回是否清空
func (c *Cache) ClearIfDomainChanged(domain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if domain != "" && domain == c.domain {
		return false
	}
	c.frames = make(map[string]struct{})
	c.domain = domain
	return true
}

// Domain 当前作用域名
func (c *Cache) Domain() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.domain
}

// Len 缓存的帧数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}
