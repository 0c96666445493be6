package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexClient
)

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// SetClient tags ctx with the name of the bus client issuing a transaction.
func SetClient(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxIndexClient, name)
}

// Client returns the bus client name set with SetClient, or "" when untagged.
func Client(ctx context.Context) string {
	val, _ := ctx.Value(ctxIndexClient).(string)
	return val
}
