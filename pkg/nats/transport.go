package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/plaenen/fnsourcing/pkg/codec"
	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Reply statuses.
const (
	StatusCommitted = "committed"
	StatusConflict  = "conflict"
	StatusError     = "error"
)

// Error codes carried in a Reply.
const (
	CodeUnknownCommand = "unknown_command"
	CodeInvalidCommand = "invalid_command"
	CodeHandlerFailed  = "handler_failed"
	CodeTimeout        = "timeout"

	// CodePublishFailed accompanies StatusCommitted: the events are stored
	// but were not handed to the event bus.
	CodePublishFailed = "publish_failed"
)

// Reply is the wire form of a dispatch result.
type Reply struct {
	Status      string            `json:"status"`
	Code        string            `json:"code,omitempty"`
	Error       string            `json:"error,omitempty"`
	AggregateID string            `json:"aggregate_id,omitempty"`
	Stream      string            `json:"stream,omitempty"`
	Events      []json.RawMessage `json:"events,omitempty"`
}

// Succeeded reports whether the command's events were committed.
func (r *Reply) Succeeded() bool {
	return r.Status == StatusCommitted
}

// DispatchFunc matches eventsourcing.Dispatcher.Dispatch.
type DispatchFunc func(ctx context.Context, cmd es.Message) (*es.Result, error)

// TransportConfig configures the command transport.
type TransportConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name is the client name for connection identification
	Name string

	// SubjectPrefix is the first subject token of command subjects.
	SubjectPrefix string

	// Timeout bounds a request without a context deadline.
	Timeout time.Duration

	// Credentials for authentication (optional)
	Token string
	User  string
	Pass  string

	Logger *slog.Logger
}

// DefaultTransportConfig returns the defaults for url.
func DefaultTransportConfig(url string) TransportConfig {
	return TransportConfig{
		URL:           url,
		Name:          "fnsourcing",
		SubjectPrefix: "commands",
		Timeout:       5 * time.Second,
	}
}

func connect(config TransportConfig) (*nats.Conn, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	} else if config.User != "" && config.Pass != "" {
		opts = append(opts, nats.UserInfo(config.User, config.Pass))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Transport sends commands to a CommandServer and waits for the reply.
type Transport struct {
	nc     *nats.Conn
	config TransportConfig
	codec  codec.JSON
}

// NewTransport connects a client-side transport.
func NewTransport(config TransportConfig) (*Transport, error) {
	nc, err := connect(config)
	if err != nil {
		return nil, err
	}
	return &Transport{nc: nc, config: config}, nil
}

// Send dispatches cmd remotely. Transport failures are returned as errors;
// command failures come back in the Reply. A timeout yields a Reply with
// CodeTimeout.
func (t *Transport) Send(ctx context.Context, cmd es.Message) (*Reply, error) {
	data, err := t.codec.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	msg := nats.NewMsg(t.config.SubjectPrefix + "." + token(cmd.Name()))
	msg.Data = data
	msg.Header.Set(HeaderContentType, t.codec.ContentType())

	if _, ok := ctx.Deadline(); !ok && t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	resp, err := t.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return &Reply{Status: StatusError, Code: CodeTimeout, Error: "request timed out"}, nil
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return &reply, nil
}

// Events decodes the events carried by a reply.
func (t *Transport) Events(reply *Reply) ([]es.Message, error) {
	events := make([]es.Message, 0, len(reply.Events))
	for _, raw := range reply.Events {
		event, err := t.codec.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Close closes the NATS connection
func (t *Transport) Close() error {
	t.nc.Close()
	return nil
}

// IsConnected returns true if connected to NATS
func (t *Transport) IsConnected() bool {
	return t.nc.IsConnected()
}

// CommandServer serves commands arriving on "<prefix>.<command_name>".
type CommandServer struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	config   TransportConfig
	dispatch DispatchFunc
	logger   *slog.Logger
	codec    codec.JSON
}

// NewCommandServer connects and starts serving. Servers sharing queue split
// the load.
func NewCommandServer(config TransportConfig, queue string, dispatch DispatchFunc) (*CommandServer, error) {
	nc, err := connect(config)
	if err != nil {
		return nil, err
	}

	s := &CommandServer{
		nc:       nc,
		config:   config,
		dispatch: dispatch,
		logger:   config.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	sub, err := nc.QueueSubscribe(config.SubjectPrefix+".>", queue, s.serve)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	s.sub = sub

	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}
	return s, nil
}

func (s *CommandServer) serve(msg *nats.Msg) {
	ctx := context.Background()
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	reply := s.handle(ctx, msg)

	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.ErrorContext(ctx, "failed to send reply",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CommandServer) handle(ctx context.Context, msg *nats.Msg) *Reply {
	cmd, err := s.codec.Unmarshal(msg.Data)
	if err != nil {
		return &Reply{Status: StatusError, Code: CodeInvalidCommand, Error: err.Error()}
	}
	if want := strings.TrimPrefix(msg.Subject, s.config.SubjectPrefix+"."); want != token(cmd.Name()) {
		return &Reply{Status: StatusError, Code: CodeInvalidCommand,
			Error: fmt.Sprintf("subject %s does not match command %s", msg.Subject, cmd.Name())}
	}
	if cmd.Kind() != es.KindCommand {
		return &Reply{Status: StatusError, Code: CodeInvalidCommand, Error: "message is not a command"}
	}

	result, err := s.dispatch(ctx, cmd)
	committed := result != nil && result.Succeeded() && len(result.Events) > 0
	if err != nil && !committed {
		reply := &Reply{Status: StatusError, Code: CodeHandlerFailed, Error: err.Error()}
		switch {
		case errors.Is(err, es.ErrCommandNotFound):
			reply.Code = CodeUnknownCommand
		case errors.Is(err, es.ErrMissingField), errors.Is(err, es.ErrInvalidCommand):
			reply.Code = CodeInvalidCommand
		case errors.Is(err, context.DeadlineExceeded):
			reply.Code = CodeTimeout
		}
		return reply
	}
	if result == nil {
		return &Reply{Status: StatusError, Code: CodeHandlerFailed, Error: "dispatch returned no result"}
	}

	reply := &Reply{
		Status:      StatusCommitted,
		AggregateID: result.AggregateID,
		Stream:      result.Stream.String(),
	}
	if err != nil {
		// Stored events must not be reported as a rejection.
		s.logger.WarnContext(ctx, "command committed but not published",
			slog.String("command", cmd.Name()),
			slog.String("stream", reply.Stream),
			slog.String("error", err.Error()),
		)
		reply.Code = CodePublishFailed
		reply.Error = err.Error()
	}
	if !result.Succeeded() {
		reply.Status = StatusConflict
		reply.Error = result.Conflict.Error()
		return reply
	}
	for _, event := range result.Events {
		data, err := s.codec.Marshal(event)
		if err != nil {
			return &Reply{Status: StatusError, Code: CodeHandlerFailed, Error: err.Error()}
		}
		reply.Events = append(reply.Events, data)
	}
	return reply
}

// Close finishes in-flight commands and closes the connection.
func (s *CommandServer) Close() error {
	return s.nc.Drain()
}
