package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"compensation-checker/handler"
	"compensation-checker/internal/config"
	"compensation-checker/internal/integrations/claimtool"
	"compensation-checker/internal/integrations/paramstore"
	"compensation-checker/internal/repository"
	"compensation-checker/internal/usecase"
)

func main() {
	ctx := context.Background()
	inLambda := os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""

	// ---- .env (process variables win) ----
	envFile := envString("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", envFile, "err", err)
		os.Exit(1)
	}

	logger := newLogger(os.Getenv("LOG_LEVEL"), inLambda)
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	baseURL := envString("CLAIM_TOOL_BASE_URL", claimtool.DefaultBaseURL)
	timeout := time.Duration(envInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second
	paramPrefix := strings.TrimSpace(os.Getenv("PARAM_PREFIX"))
	decisionTable := strings.TrimSpace(os.Getenv("DECISION_TABLE"))

	// ---- AWS SDK config, only when a feature needs it ----
	var awsCfg aws.Config
	if paramPrefix != "" || decisionTable != "" {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
	}

	// ---- Clients ----
	sources := []config.Source{config.Env()}
	if paramPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		ps, err := config.ParamStore(ssmClient, paramPrefix)
		if err != nil {
			slog.Error("failed to create parameter store source", "err", err)
			os.Exit(1)
		}
		sources = append(sources, ps)
	}
	loader, err := config.NewLoader(sources...)
	if err != nil {
		slog.Error("failed to create config loader", "err", err)
		os.Exit(1)
	}

	tool, err := claimtool.NewClient(
		claimtool.WithBaseURL(baseURL),
		claimtool.WithTimeout(timeout),
		claimtool.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create claim tool client", "err", err)
		os.Exit(1)
	}

	opts := []usecase.Option{usecase.WithLogger(logger)}
	if decisionTable != "" {
		history, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), decisionTable)
		if err != nil {
			slog.Error("failed to create decision history client", "err", err)
			os.Exit(1)
		}
		opts = append(opts, usecase.WithHistory(history))
	}

	checkService, err := usecase.NewCheckService(loader, tool, opts...)
	if err != nil {
		slog.Error("failed to create check service", "err", err)
		os.Exit(1)
	}

	if !inLambda {
		// Failures are already logged by the check service.
		if _, err := checkService.Check(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	// ---- Handler ----
	h, err := handler.NewHandler(checkService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	switch trigger := envString("LAMBDA_TRIGGER", "api"); trigger {
	case "api":
		lambda.Start(h.Handle)
	case "schedule":
		lambda.Start(h.HandleScheduled)
	default:
		slog.Error("unknown LAMBDA_TRIGGER", "value", trigger)
		os.Exit(1)
	}
}

// newLogger writes text lines for terminals and JSON lines under Lambda.
func newLogger(level string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
