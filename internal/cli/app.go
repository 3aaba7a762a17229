package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"unison-context/handler"
	"unison-context/internal/codec"
	"unison-context/internal/config"
	"unison-context/internal/integrations/paramstore"
	"unison-context/internal/kvtable"
	"unison-context/internal/observability"
	"unison-context/internal/policy"
	"unison-context/internal/usecase"
)

// app is the assembled process: one table, one codec, one store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	table  kvtable.Table
	codec  *codec.Codec
	store  *usecase.RecordStore
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	level, err := observability.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(logOut, level)
	slog.SetDefault(logger)

	target, err := kvtable.ParseURL(cfg.StorageURL)
	if err != nil {
		return nil, err
	}

	// AWS configuration is only loaded when something needs it.
	var awsCfg *aws.Config
	needAWS := target.Backend == kvtable.BackendDynamoDB ||
		(cfg.EncryptionKey == "" && cfg.EncryptionKeyParam != "")
	if needAWS {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &loaded
	}

	key, err := loadKey(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	format, err := codec.ParseFormat(cfg.CodecFormat)
	if err != nil {
		return nil, err
	}
	c, err := codec.New(codec.Options{Key: key, Format: format})
	if err != nil {
		return nil, err
	}

	var openOpts []kvtable.Option
	if awsCfg != nil {
		openOpts = append(openOpts, kvtable.WithAWSConfig(*awsCfg))
	}
	table, err := kvtable.Open(ctx, cfg.StorageURL, openOpts...)
	if err != nil {
		return nil, err
	}

	evaluator := policy.NewEvaluator(cfg.RequireConsent, policy.WithRoles(cfg.Roles()))
	store, err := usecase.NewRecordStore(table, c, evaluator,
		usecase.WithLogger(logger),
		usecase.WithMaxDashboardCards(cfg.DashboardMaxCards),
		usecase.WithMaxSessionMessages(cfg.SessionMaxMessages),
	)
	if err != nil {
		_ = table.Close()
		return nil, err
	}

	logger.Info("context store ready",
		"backend", target.Backend,
		"encrypted", c.Encrypted(),
		"format", format,
		"require_consent", cfg.RequireConsent)

	return &app{cfg: cfg, logger: logger, table: table, codec: c, store: store}, nil
}

// loadKey returns nil when no key source is configured, which selects
// plain mode.
func loadKey(ctx context.Context, cfg *config.Config, awsCfg *aws.Config) ([]byte, error) {
	switch {
	case cfg.EncryptionKey != "":
		key, err := codec.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.EnvEncryptionKey, err)
		}
		return key, nil
	case cfg.EncryptionKeyParam != "":
		if awsCfg == nil {
			return nil, errors.New("encryption key parameter set without AWS config")
		}
		client, err := paramstore.New(awsssm.NewFromConfig(*awsCfg))
		if err != nil {
			return nil, err
		}
		loader, err := paramstore.NewKeyLoader(client, codec.ParseKey)
		if err != nil {
			return nil, err
		}
		return loader.Load(ctx, cfg.EncryptionKeyParam)
	default:
		return nil, nil
	}
}

func (a *app) handler() (*handler.Handler, error) {
	return handler.NewHandler(a.store,
		handler.WithLogger(a.logger),
		handler.WithMaxBodyBytes(a.cfg.MaxBodyBytes),
	)
}

func (a *app) Close() error {
	return a.table.Close()
}
