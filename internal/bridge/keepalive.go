package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/voxwire/voxbridge/pkg/realtime"
)

// runKeepalive sends periodic keepalives on the session until the context is
// cancelled. The first send failure stops the loop and is returned; the
// session is presumed dead at that point and the read side will surface the
// close.
func runKeepalive(ctx context.Context, handle realtime.SessionHandle, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := handle.Keepalive(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}
