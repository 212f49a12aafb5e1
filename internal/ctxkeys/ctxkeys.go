package ctxkeys

import "context"

// TraceIDKey 事务追踪 ID 在 context 中的键
type TraceIDKey struct{}

// WithTraceID 返回携带追踪 ID 的 context
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取追踪 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey{}).(string)
	return id
}
