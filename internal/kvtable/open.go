package kvtable

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
)

// Backend names a physical storage variant.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendDynamoDB Backend = "dynamodb"
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
)

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	awsConfig *aws.Config
}

// WithAWSConfig supplies the AWS configuration for the DynamoDB backend
// instead of loading the default chain.
func WithAWSConfig(cfg aws.Config) Option {
	return func(c *openConfig) {
		c.awsConfig = &cfg
	}
}

// Target is a parsed storage URL.
type Target struct {
	Backend Backend
	// Location is the file path, DSN, table name or Redis URL.
	Location string
}

// ParseURL maps a storage URL onto a backend:
//
//	sqlite:<path> | file:<path>   embedded file
//	postgres://… | postgresql://… relational
//	dynamodb://<table>            DynamoDB table
//	redis://… | rediss://…        Redis
//	memory:                       process memory
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Target{}, fmt.Errorf("kvtable: storage url %q has no scheme", raw)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "file":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return Target{}, fmt.Errorf("kvtable: storage url %q has no path", raw)
		}
		return Target{Backend: BackendSQLite, Location: path}, nil
	case "postgres", "postgresql":
		return Target{Backend: BackendPostgres, Location: raw}, nil
	case "dynamodb":
		u, err := url.Parse(raw)
		if err != nil {
			return Target{}, fmt.Errorf("kvtable: parse storage url: %w", err)
		}
		if u.Host == "" {
			return Target{}, fmt.Errorf("kvtable: storage url %q has no table name", raw)
		}
		return Target{Backend: BackendDynamoDB, Location: u.Host}, nil
	case "redis", "rediss":
		return Target{Backend: BackendRedis, Location: raw}, nil
	case "memory":
		return Target{Backend: BackendMemory}, nil
	default:
		return Target{}, fmt.Errorf("kvtable: unsupported storage scheme %q", scheme)
	}
}

// Open connects to the backend named by rawURL.
func Open(ctx context.Context, rawURL string, opts ...Option) (Table, error) {
	cfg := &openConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch target.Backend {
	case BackendSQLite:
		return OpenSQLite(target.Location)

	case BackendPostgres:
		return OpenPostgres(ctx, target.Location)

	case BackendDynamoDB:
		awsCfg := cfg.awsConfig
		if awsCfg == nil {
			loaded, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("kvtable: load AWS config: %w", err)
			}
			awsCfg = &loaded
		}
		return NewDynamoTable(dynamodb.NewFromConfig(*awsCfg), target.Location)

	case BackendRedis:
		redisOpts, err := redis.ParseURL(target.Location)
		if err != nil {
			return nil, fmt.Errorf("kvtable: parse redis url: %w", err)
		}
		return NewRedisTable(redis.NewClient(redisOpts))

	default:
		return NewMemoryTable(), nil
	}
}
