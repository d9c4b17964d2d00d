package stdio

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	apperrors "github.com/goliatone/go-errors"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/rpc"
)

// CodeProtocol marks frames that violate the stream protocol.
const CodeProtocol = "E_PROTOCOL"

type Option func(*options)

type options struct {
	logger   logging.Logger
	channel  string
	maxFrame int
}

func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(logger)
	}
}

// WithChannel sets the channel name announced in, and required of, the
// hello exchange. An empty name accepts any peer.
func WithChannel(name string) Option {
	return func(o *options) {
		o.channel = name
	}
}

// WithMaxFrame bounds frames in both directions.
func WithMaxFrame(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrame = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.Nop(), maxFrame: DefaultMaxFrame}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Server answers call frames by dispatching them to an rpc.Server.
type Server struct {
	rpc  *rpc.Server
	opts options
}

func NewServer(server *rpc.Server, opts ...Option) *Server {
	return &Server{rpc: server, opts: buildOptions(opts)}
}

// Serve runs the protocol on r and w until the peer closes r or ctx is done.
// The peer must open with a hello frame. Calls are dispatched concurrently
// and each reply frame is written as soon as its reply is delivered. A frame
// that cannot be decoded is answered with an error frame and the session
// goes on. On EOF Serve waits for outstanding replies before returning nil;
// other read failures also wait, then return an E_PROTOCOL error.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := NewFrameReader(r)
	reader.maxFrame = s.opts.maxFrame
	writer := NewFrameWriter(w)
	writer.maxFrame = s.opts.maxFrame
	logger := s.opts.logger

	if err := s.acceptHello(reader, writer); err != nil {
		return err
	}
	logger.Info("stdio transport ready", "channel", s.opts.channel)

	type readResult struct {
		frame *Frame
		err   error
	}
	frames := make(chan readResult)
	go func() {
		for {
			frame, err := reader.ReadFrame()
			select {
			case frames <- readResult{frame, err}:
			case <-ctx.Done():
				return
			}
			var decodeErr *FrameDecodeError
			if err != nil && !stderrors.As(err, &decodeErr) {
				return
			}
		}
	}()

	var pending sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-frames:
			if res.err != nil {
				if stderrors.Is(res.err, io.EOF) {
					logger.Info("stdio peer closed stream, draining replies")
					return waitPending(ctx, &pending)
				}
				var decodeErr *FrameDecodeError
				if stderrors.As(res.err, &decodeErr) {
					logger.Warn("dropping undecodable frame", "error", decodeErr)
					s.write(writer, &Frame{
						Type:  FrameError,
						Error: &rpc.Error{Code: CodeProtocol, Message: decodeErr.Error()},
					})
					continue
				}
				// replies already in flight are still written before returning
				if err := waitPending(ctx, &pending); err != nil {
					logger.Warn("replies abandoned after read failure", "error", err)
				}
				return apperrors.Wrap(res.err, apperrors.CategoryExternal, "read frame").
					WithTextCode(CodeProtocol)
			}
			s.handleFrame(ctx, res.frame, writer, &pending)
		}
	}
}

func (s *Server) acceptHello(reader *FrameReader, writer *FrameWriter) error {
	hello, err := reader.ReadFrame()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CategoryExternal, "read hello").WithTextCode(CodeProtocol)
	}
	if hello.Type != FrameHello {
		return s.rejectHello(writer, fmt.Sprintf("expected hello frame, got %s", hello.Type))
	}
	if s.opts.channel != "" && hello.Channel != s.opts.channel {
		return s.rejectHello(writer, fmt.Sprintf("unknown channel %q", hello.Channel))
	}

	return writer.WriteFrame(&Frame{
		Type:      FrameHello,
		Version:   ProtocolVersion,
		Channel:   s.opts.channel,
		Endpoints: s.rpc.Endpoints(),
	})
}

func (s *Server) rejectHello(writer *FrameWriter, message string) error {
	protoErr := &rpc.Error{Code: CodeProtocol, Message: message}
	if err := writer.WriteFrame(&Frame{Type: FrameError, Error: protoErr}); err != nil {
		s.opts.logger.Warn("could not report handshake failure", "error", err)
	}
	return apperrors.New(message, apperrors.CategoryBadInput).WithTextCode(CodeProtocol)
}

func (s *Server) handleFrame(ctx context.Context, frame *Frame, writer *FrameWriter, pending *sync.WaitGroup) {
	logger := s.opts.logger
	if frame.Type != FrameCall {
		logger.Warn("ignoring unexpected frame", "type", frame.Type.String(), "id", frame.ID)
		s.write(writer, &Frame{
			Type:  FrameError,
			ID:    frame.ID,
			Error: &rpc.Error{Code: CodeProtocol, Message: fmt.Sprintf("unexpected %s frame", frame.Type)},
		})
		return
	}

	id := frame.ID
	payload, err := DecodePayload(frame.Payload)
	if err != nil {
		logger.Warn("rejecting call with undecodable payload", "id", id, "method", frame.Method, "error", err)
		env := rpc.NewResponseEnvelope(sonarfit.Failure(sonarfit.InvalidArgs("Invalid arguments")))
		s.write(writer, &Frame{Type: FrameReply, ID: id, Reply: &env})
		return
	}

	pending.Add(1)
	go s.rpc.Dispatch(ctx, frame.Method, payload, func(reply sonarfit.Reply) {
		defer pending.Done()
		env := rpc.NewResponseEnvelope(reply)
		s.write(writer, &Frame{Type: FrameReply, ID: id, Reply: &env})
	})
}

func (s *Server) write(writer *FrameWriter, frame *Frame) {
	if err := writer.WriteFrame(frame); err != nil {
		s.opts.logger.Error("failed to write frame", "type", frame.Type.String(), "id", frame.ID, "error", err)
	}
}

func waitPending(ctx context.Context, pending *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
