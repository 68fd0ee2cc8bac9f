// Package aws provides kv.Backend implementations on AWS services: SSM
// Parameter Store (one parameter per key) and S3 (one object per key).
// Changes made by other processes are detected by polling the subscribed
// keys.
package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/yacchi/bettershare/kv"
	"github.com/yacchi/bettershare/watcher"
)

// Option is a marker interface for all AWS backend options.
// Only types that implement this interface can be passed to NewXxxStore.
type Option interface {
	awsStoreOption()
}

// commonConfig holds settings shared by every AWS backend.
type commonConfig struct {
	awsConfig    *aws.Config
	pollInterval time.Duration
	nopts        []kv.NotifierOption
}

// ClientOption configures behavior shared by every AWS backend.
type ClientOption func(*commonConfig)

func (ClientOption) awsStoreOption() {}

// WithAWSConfig sets a custom AWS configuration.
// If not provided, the default configuration is loaded from the environment.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(ctx, config.WithRegion("us-west-2"))
//	s := aws.NewSSMStore("/bettershare/", aws.WithAWSConfig(cfg))
func WithAWSConfig(cfg aws.Config) ClientOption {
	return func(c *commonConfig) {
		c.awsConfig = &cfg
	}
}

// WithPollInterval sets how often subscribed keys are polled. Default 30s.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *commonConfig) {
		c.pollInterval = d
	}
}

// WithNotifierOptions configures change detection.
func WithNotifierOptions(opts ...kv.NotifierOption) ClientOption {
	return func(c *commonConfig) {
		c.nopts = append(c.nopts, opts...)
	}
}

// loadAWSConfig returns the AWS config, loading the default if not set.
func loadAWSConfig(ctx context.Context, cfg *commonConfig) (aws.Config, error) {
	if cfg.awsConfig != nil {
		return *cfg.awsConfig, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// base implements the parts of kv.Backend that do not depend on the service.
type base struct {
	cfg      commonConfig
	get      func(ctx context.Context, key string) (any, bool, error)
	notifier *kv.Notifier

	mu     sync.Mutex
	closed bool
}

func (b *base) init() {
	if b.cfg.pollInterval <= 0 {
		b.cfg.pollInterval = watcher.DefaultPollInterval
	}
	b.notifier = kv.NewNotifier(b.snapshot, kv.PollingWatcher(b.cfg.pollInterval), b.cfg.nopts...)
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Subscribe implements kv.ChangeNotifier.
func (b *base) Subscribe(key string, handler kv.ChangeHandler) (func(), error) {
	if b.isClosed() {
		return nil, kv.ErrClosed
	}
	return b.notifier.Subscribe(key, handler)
}

// Close stops polling.
func (b *base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.notifier.Close()
}

func (b *base) snapshot(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, found, err := b.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if found {
			out[k] = v
		}
	}
	return out, nil
}

// prepare normalizes value and encodes it for storage.
func (b *base) prepare(ctx context.Context, value any) (any, string, error) {
	n, err := kv.Normalize(value)
	if err != nil {
		return nil, "", err
	}
	text, err := kv.Encode(n)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if b.isClosed() {
		return nil, "", kv.ErrClosed
	}
	return n, text, nil
}
