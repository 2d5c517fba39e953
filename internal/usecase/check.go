package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"compensation-checker/internal/config"
	"compensation-checker/internal/domain"
	"compensation-checker/internal/integrations/claimtool"
)

type ConfigLoader interface {
	Load(ctx context.Context) (domain.Claim, error)
}

type ClaimTool interface {
	FetchSessionToken(ctx context.Context, flight domain.Flight) (string, error)
	FetchDecision(ctx context.Context, token string, passenger domain.Passenger) (string, error)
}

type HistoryReadWriter interface {
	GetLatestDecision(ctx context.Context, claimKey string) (domain.DecisionRecord, bool, error)
	RecordDecision(ctx context.Context, claimKey, checkID, message string, checkedAt time.Time) error
}

type CheckService struct {
	config  ConfigLoader
	tool    ClaimTool
	history HistoryReadWriter
	logger  *slog.Logger
}

type Option func(*CheckService)

// WithHistory enables decision history. Without it every check is stateless.
func WithHistory(h HistoryReadWriter) Option {
	return func(s *CheckService) {
		s.history = h
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CheckService) {
		if l != nil {
			s.logger = l
		}
	}
}

type CheckOutput struct {
	CheckID   string
	ClaimKey  string
	Message   string
	CheckedAt time.Time

	// Set only when history is enabled and could be read.
	FirstCheck      bool
	Changed         bool
	PreviousMessage string
}

func NewCheckService(cfg ConfigLoader, tool ClaimTool, opts ...Option) (*CheckService, error) {
	if cfg == nil {
		return nil, errors.New("usecase: config loader must not be nil")
	}
	if tool == nil {
		return nil, errors.New("usecase: claim tool must not be nil")
	}
	s := &CheckService{
		config: cfg,
		tool:   tool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Check runs one claim check: load config, fetch the session token, fetch the
// decision. Each step runs once; the first failure ends the check.
func (s *CheckService) Check(ctx context.Context) (CheckOutput, error) {
	claim, err := s.config.Load(ctx)
	if err != nil {
		return CheckOutput{}, s.fail(ctx, configError(err))
	}
	s.logger.InfoContext(ctx, "all required settings loaded")

	token, err := s.tool.FetchSessionToken(ctx, claim.Flight)
	if err != nil {
		return CheckOutput{}, s.fail(ctx, claimToolError(claimtool.StageSession, err))
	}

	message, err := s.tool.FetchDecision(ctx, token, claim.Passenger)
	if err != nil {
		return CheckOutput{}, s.fail(ctx, claimToolError(claimtool.StageDecision, err))
	}

	out := CheckOutput{
		CheckID:   newUUID(),
		ClaimKey:  claim.Key(),
		Message:   message,
		CheckedAt: now().UTC(),
	}
	s.logger.InfoContext(ctx, "decision received", "message", message, "checkId", out.CheckID)

	if s.history != nil {
		s.compareAndRecord(ctx, &out)
	}
	return out, nil
}

// compareAndRecord fills the history fields of out and stores the decision.
// History failures are logged and never fail the check.
func (s *CheckService) compareAndRecord(ctx context.Context, out *CheckOutput) {
	prev, found, err := s.history.GetLatestDecision(ctx, out.ClaimKey)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read decision history", "err", err)
	} else {
		out.FirstCheck = !found
		if found {
			out.PreviousMessage = prev.Message
			out.Changed = prev.Message != out.Message
		}
		if out.Changed {
			s.logger.InfoContext(ctx, "decision changed since last check",
				"previous", prev.Message, "previousCheckedAt", prev.CheckedAt, "message", out.Message)
		}
	}

	if err := s.history.RecordDecision(ctx, out.ClaimKey, out.CheckID, out.Message, out.CheckedAt); err != nil {
		s.logger.WarnContext(ctx, "failed to record decision", "err", err)
	}
}

func (s *CheckService) fail(ctx context.Context, err *Error) *Error {
	attrs := []any{"kind", err.Kind, "reason", err.Reason}
	if err.Key != "" {
		attrs = append(attrs, "key", err.Key)
	}
	if err.StatusCode != 0 {
		attrs = append(attrs, "status", err.StatusCode)
	}
	if err.Err != nil {
		attrs = append(attrs, "err", err.Err)
	}
	s.logger.ErrorContext(ctx, "claim check failed", attrs...)
	return err
}

func configError(err error) *Error {
	var missing *config.MissingError
	if errors.As(err, &missing) {
		e := newError(ErrorConfiguration, "missing_setting", err)
		e.Key = missing.Key
		return e
	}
	return newError(ErrorConfiguration, "config_source_error", err)
}

func claimToolError(stage string, err error) *Error {
	var (
		transportErr *claimtool.TransportError
		statusErr    *claimtool.HTTPStatusError
		formatErr    *claimtool.ResponseFormatError
	)
	switch {
	case errors.As(err, &transportErr):
		return newError(ErrorTransport, stage+"_transport_error", err)
	case errors.Is(err, claimtool.ErrSessionTokenMissing):
		return newError(ErrorSessionTokenMissing, "session_token_missing", err)
	case errors.As(err, &statusErr):
		e := newError(ErrorHTTPStatus, stage+"_http_status", err)
		e.StatusCode = statusErr.StatusCode
		return e
	case errors.As(err, &formatErr):
		return newError(ErrorResponseFormat, stage+"_malformed_response", err)
	case errors.Is(err, claimtool.ErrResponseTooLarge):
		return newError(ErrorInternal, stage+"_response_too_large", err)
	default:
		return newError(ErrorInternal, stage+"_error", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = time.Now
