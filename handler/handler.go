package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"compensation-checker/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type CheckUseCase interface {
	Check(ctx context.Context) (usecase.CheckOutput, error)
}

type checkResponse struct {
	CheckID         string    `json:"checkId"`
	Message         string    `json:"message"`
	CheckedAt       time.Time `json:"checkedAt"`
	FirstCheck      bool      `json:"firstCheck"`
	Changed         bool      `json:"changed"`
	PreviousMessage string    `json:"previousMessage,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	uc     CheckUseCase
	logger *slog.Logger
}

func NewHandler(uc CheckUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle serves POST /check behind API Gateway. Use case failures become
// HTTP responses; the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFrom(req.Headers)
	logger := h.logger.With("correlationId", correlationID)

	if req.HTTPMethod != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}

	out, err := h.uc.Check(ctx)
	if err != nil {
		status, body := mapError(err)
		logger.ErrorContext(ctx, "check request failed", "status", status, "error", body.Error, "err", err)
		return respond(status, correlationID, body), nil
	}

	logger.InfoContext(ctx, "check request served", "checkId", out.CheckID, "changed", out.Changed)
	return respond(http.StatusOK, correlationID, toCheckResponse(out)), nil
}

// HandleScheduled runs one check per EventBridge schedule tick. A failed check
// fails the invocation.
func (h *Handler) HandleScheduled(ctx context.Context, ev events.CloudWatchEvent) (checkResponse, error) {
	logger := h.logger.With("eventId", ev.ID, "source", ev.Source)
	logger.InfoContext(ctx, "scheduled check started", "time", ev.Time)

	out, err := h.uc.Check(ctx)
	if err != nil {
		return checkResponse{}, err
	}
	return toCheckResponse(out), nil
}

func toCheckResponse(out usecase.CheckOutput) checkResponse {
	return checkResponse{
		CheckID:         out.CheckID,
		Message:         out.Message,
		CheckedAt:       out.CheckedAt,
		FirstCheck:      out.FirstCheck,
		Changed:         out.Changed,
		PreviousMessage: out.PreviousMessage,
	}
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	body := errorResponse{Error: string(ucErr.Kind), Reason: ucErr.Reason}
	switch ucErr.Kind {
	case usecase.ErrorTransport, usecase.ErrorSessionTokenMissing, usecase.ErrorHTTPStatus, usecase.ErrorResponseFormat:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(buf),
	}
}
