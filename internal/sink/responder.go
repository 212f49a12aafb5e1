package sink

// BlockedPage 被拦截请求的替代响应体
const BlockedPage = "<!DOCTYPE html>" +
	"<html>" +
	"<body>" +
	"<!-- blocked by AdblockPlus -->" +
	"</body>" +
	"</html>"

var blockedPage = []byte(BlockedPage)

// responder 按游标分块输出固定替代内容
type responder struct {
	cursor int
}

// next 从游标处复制至多 len(p) 字节，返回复制数和是否已到末尾
func (r *responder) next(p []byte) (n int, done bool) {
	if r.cursor >= len(blockedPage) {
		return 0, true
	}
	n = copy(p, blockedPage[r.cursor:])
	r.cursor += n
	return n, false
}

func (r *responder) total() int { return len(blockedPage) }
