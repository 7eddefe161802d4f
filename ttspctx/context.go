package ttspctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexDevice
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

// Device returns the device name attached to the context, or an empty string.
func Device(ctx context.Context) string {
	val := ctx.Value(ctxIndexDevice)
	if val == nil {
		return ""
	}
	return val.(string)
}

func WithDevice(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxIndexDevice, name)
}
