package stdio

import (
	"context"
	"io"
	"sync"

	apperrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/rpc"
)

// ErrClientClosed is returned for calls made on, or pending in, a client
// whose stream has ended.
var ErrClientClosed = apperrors.New("stdio client closed", apperrors.CategoryConflict).
	WithTextCode("STDIO_CLIENT_CLOSED")

// Client is the host side of the protocol: it opens the hello exchange and
// correlates reply frames with calls by id.
type Client struct {
	writer *FrameWriter
	closer io.Closer
	logger logging.Logger

	channel   string
	endpoints []rpc.Endpoint

	mu      sync.Mutex
	pending map[string]chan rpc.ResponseEnvelope
	err     error
	done    chan struct{}
}

// Dial performs the hello exchange on r and w and starts reading replies.
// When w is an io.Closer, Close closes it.
func Dial(r io.Reader, w io.Writer, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	reader := NewFrameReader(r)
	reader.maxFrame = o.maxFrame
	writer := NewFrameWriter(w)
	writer.maxFrame = o.maxFrame

	if err := writer.WriteFrame(&Frame{Type: FrameHello, Version: ProtocolVersion, Channel: o.channel}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryExternal, "write hello").WithTextCode(CodeProtocol)
	}
	hello, err := reader.ReadFrame()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryExternal, "read hello").WithTextCode(CodeProtocol)
	}
	switch hello.Type {
	case FrameHello:
	case FrameError:
		msg := "handshake rejected"
		if hello.Error != nil {
			msg = hello.Error.Message
		}
		return nil, apperrors.New(msg, apperrors.CategoryBadInput).WithTextCode(CodeProtocol)
	default:
		return nil, apperrors.New("expected hello frame, got "+hello.Type.String(), apperrors.CategoryBadInput).
			WithTextCode(CodeProtocol)
	}

	c := &Client{
		writer:    writer,
		logger:    o.logger,
		channel:   hello.Channel,
		endpoints: hello.Endpoints,
		pending:   make(map[string]chan rpc.ResponseEnvelope),
		done:      make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	go c.readLoop(reader)
	return c, nil
}

// Channel returns the channel name the server announced.
func (c *Client) Channel() string {
	return c.channel
}

// Endpoints returns the manifest received during the hello exchange.
func (c *Client) Endpoints() []rpc.Endpoint {
	out := make([]rpc.Endpoint, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// Done is closed once the reply stream has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Invoke sends a call frame and waits for its reply or ctx.
func (c *Client) Invoke(ctx context.Context, method string, payload any) (rpc.ResponseEnvelope, error) {
	id := uuid.NewString()
	ch := make(chan rpc.ResponseEnvelope, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return rpc.ResponseEnvelope{}, err
	}
	raw, err := EncodePayload(payload)
	if err != nil {
		c.mu.Unlock()
		return rpc.ResponseEnvelope{}, apperrors.Wrap(err, apperrors.CategoryBadInput, "encode payload").
			WithTextCode(CodeProtocol)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writer.WriteFrame(&Frame{Type: FrameCall, ID: id, Method: method, Payload: raw}); err != nil {
		c.forget(id)
		return rpc.ResponseEnvelope{}, apperrors.Wrap(err, apperrors.CategoryExternal, "write call").
			WithTextCode(CodeProtocol)
	}

	select {
	case env := <-ch:
		return env, nil
	case <-c.done:
		// the reply may have raced the end of stream
		select {
		case env := <-ch:
			return env, nil
		default:
		}
		c.forget(id)
		return rpc.ResponseEnvelope{}, c.closeErr()
	case <-ctx.Done():
		c.forget(id)
		return rpc.ResponseEnvelope{}, ctx.Err()
	}
}

// Close closes the write side, which ends the server's Serve loop.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop(reader *FrameReader) {
	defer close(c.done)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			c.mu.Lock()
			c.err = ErrClientClosed
			c.pending = make(map[string]chan rpc.ResponseEnvelope)
			c.mu.Unlock()
			if err != io.EOF {
				c.logger.Warn("stdio client stream ended", "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameReply:
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.mu.Unlock()
			if !ok {
				c.logger.Warn("reply for unknown call", "id", frame.ID)
				continue
			}
			if frame.Reply != nil {
				ch <- *frame.Reply
			} else {
				ch <- rpc.ResponseEnvelope{}
			}
		case FrameError:
			if frame.Error != nil {
				c.logger.Warn("server reported protocol error", "id", frame.ID, "code", frame.Error.Code, "message", frame.Error.Message)
			}
		default:
			c.logger.Warn("ignoring unexpected frame", "type", frame.Type.String())
		}
	}
}
