package meander

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Conn is a resolved, accepted connection. The external transport drives
// the receive loop and feeds each inbound frame through Dispatch; when the
// peer goes away or the application decides to hang up it calls Close.
type Conn struct {
	dispatcher *dispatcher
	manager    *hookManager
	chain      []Resource
	target     Resource
	sock       Socket
	logger     *zap.Logger
}

// Target returns the innermost resource of the resolved chain.
func (c *Conn) Target() Resource {
	return c.target
}

// Chain returns the resolved resource chain, root first.
func (c *Conn) Chain() []Resource {
	return c.chain
}

// Dispatch decodes one inbound frame and routes it to the target resource's
// handlers, wrapped in before_receive and after_receive hooks. Decode and
// validation failures are absorbed by the resource's fallback; handler
// errors are observed by every after_receive hook (via the context's Err
// field) and then returned.
func (c *Conn) Dispatch(ctx context.Context, raw []byte) error {
	hctx := &HookContext{
		Target: c.target,
		Socket: c.sock,
		Params: c.target.base().params,
		Raw:    raw,
	}

	if err := c.manager.runBefore(ctx, BeforeReceive, hctx); err != nil {
		return err
	}

	err := c.dispatcher.dispatch(ctx, c.target, c.sock, raw)
	hctx.Err = err

	if afterErr := c.manager.runAfter(ctx, AfterReceive, hctx); afterErr != nil {
		err = joinPreservingFirst(err, afterErr)
	}
	return err
}

// Close runs the before_disconnect hooks and the target resource's
// OnDisconnect, then closes the socket with the given code. All stages run
// even when earlier ones fail; their errors are joined.
func (c *Conn) Close(ctx context.Context, code Status) error {
	hctx := &HookContext{
		Target:    c.target,
		Socket:    c.sock,
		Params:    c.target.base().params,
		CloseCode: code,
	}

	var errs []error
	if err := c.manager.runBefore(ctx, BeforeDisconnect, hctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.target.OnDisconnect(ctx, c.sock, code); err != nil {
		errs = append(errs, err)
	}
	if err := c.sock.Close(code); err != nil {
		c.logger.Warn("failed to close socket", zap.Error(err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
