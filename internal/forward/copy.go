package forward

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

const copyBufferSize = 32 * 1024

var copyBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// CopyBidirectional copies between left and right until either direction
// fails or both reach EOF, or ctx is canceled. A direction that reaches EOF
// half-closes its destination so the peer sees the end of stream. Both
// connections are closed on return.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	done := make(chan struct{})
	defer close(done)

	g.Go(func() error {
		return copyHalf(left, right)
	})

	g.Go(func() error {
		return copyHalf(right, left)
	})

	// If the context is canceled, close both sides to unblock the copies.
	go func() {
		select {
		case <-gctx.Done():
			closeBoth()
		case <-done:
		}
	}()

	return g.Wait()
}

func copyHalf(dst, src net.Conn) error {
	bp := copyBuffers.Get().(*[]byte)
	defer copyBuffers.Put(bp)

	if _, err := io.CopyBuffer(dst, src, *bp); err != nil {
		return err
	}
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return nil
}
