package stream

import (
	"context"
	"io"

	"github.com/killallgit/finsight/pkg/chat"
)

// Transport opens the response byte stream for one chat request. The
// returned body is closed by the caller.
type Transport interface {
	OpenStream(ctx context.Context, req chat.ChatRequest) (io.ReadCloser, error)
}

// TransportFunc is a function adapter for Transport
type TransportFunc func(ctx context.Context, req chat.ChatRequest) (io.ReadCloser, error)

// OpenStream implements Transport
func (f TransportFunc) OpenStream(ctx context.Context, req chat.ChatRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

var _ Transport = TransportFunc(nil)
