package nodes

import (
	"context"
	"fmt"
	"time"

	dagflow "dagflow"
)

// Attributes describes per-node execution policy applied inside the node
// body. The executors never retry on their own.
type Attributes struct {
	// RetryAttempts is the number of additional times to rerun the body when
	// it returns an error. Zero means do not retry.
	RetryAttempts int
	// RetryDelay is the pause between retry attempts.
	RetryDelay time.Duration
	// Timeout bounds each attempt. Zero means no limit beyond the caller's
	// context.
	Timeout time.Duration
}

// WithAttributes returns a copy of node whose body honours attrs.
func WithAttributes(node *Node, attrs Attributes) *Node {
	if node == nil {
		return nil
	}
	inner := node.Fn
	cp := node.Clone()
	cp.Fn = func(ctx context.Context, in dagflow.Inputs) (any, error) {
		retries := 0
		for {
			val, err := runAttempt(ctx, attrs.Timeout, inner, in)
			if err == nil {
				return val, nil
			}
			if retries >= attrs.RetryAttempts || ctx.Err() != nil {
				return nil, err
			}
			retries++
			if attrs.RetryDelay > 0 {
				timer := time.NewTimer(attrs.RetryDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
		}
	}
	return cp
}

// WithRetry reruns the node body up to attempts extra times on error.
func WithRetry(node *Node, attempts int, delay time.Duration) *Node {
	return WithAttributes(node, Attributes{RetryAttempts: attempts, RetryDelay: delay})
}

// WithTimeout bounds the node body by d.
func WithTimeout(node *Node, d time.Duration) *Node {
	return WithAttributes(node, Attributes{Timeout: d})
}

type attemptResult struct {
	val any
	err error
}

// runAttempt runs fn once. With a timeout the body runs on its own goroutine
// so a body that ignores ctx still cannot hold the caller past the deadline.
func runAttempt(ctx context.Context, timeout time.Duration, fn dagflow.NodeFunc, in dagflow.Inputs) (any, error) {
	if timeout <= 0 {
		return fn(ctx, in)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- attemptResult{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		val, err := fn(ctx, in)
		done <- attemptResult{val, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.val, res.err
	}
}
