package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/yacchi/bettershare/kv"
)

// SSMAPI is the subset of the SSM client used by SSMStore.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMStore keeps each key in the String parameter "<prefix><key>".
type SSMStore struct {
	base
	prefix string
	client SSMAPI

	clientInit    sync.Once
	clientInitErr error
}

var _ kv.Backend = (*SSMStore)(nil)

// SSMOption configures an SSMStore.
type SSMOption func(*SSMStore)

func (SSMOption) awsStoreOption() {}

// WithSSMClient sets the client. This overrides WithAWSConfig.
func WithSSMClient(client SSMAPI) SSMOption {
	return func(s *SSMStore) {
		s.client = client
	}
}

// NewSSMStore creates a Parameter Store backend. prefix is prepended to
// every key, e.g. "/bettershare/" stores "preferences" as
// "/bettershare/preferences".
//
// Example:
//
//	s := aws.NewSSMStore("/bettershare/")
//	s := aws.NewSSMStore("/bettershare/", aws.WithSSMClient(client), aws.WithPollInterval(time.Minute))
func NewSSMStore(prefix string, opts ...Option) *SSMStore {
	s := &SSMStore{prefix: prefix}
	for _, opt := range opts {
		switch o := opt.(type) {
		case ClientOption:
			o(&s.cfg)
		case SSMOption:
			o(s)
		}
	}
	s.base.get = s.Get
	s.init()
	return s
}

// ensureClient creates a default SSM client if one was not provided.
func (s *SSMStore) ensureClient(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	s.clientInit.Do(func() {
		cfg, err := loadAWSConfig(ctx, &s.cfg)
		if err != nil {
			s.clientInitErr = err
			return
		}
		s.client = ssm.NewFromConfig(cfg)
	})
	return s.clientInitErr
}

// ParameterName returns the parameter that holds key.
func (s *SSMStore) ParameterName(key string) string {
	return s.prefix + key
}

// Get implements kv.KeyValueStore.
func (s *SSMStore) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, kv.ErrClosed
	}
	if err := s.ensureClient(ctx); err != nil {
		return nil, false, err
	}

	name := s.ParameterName(key)
	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get parameter %q: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return nil, false, fmt.Errorf("parameter %q has no value", name)
	}

	v, err := kv.Decode(*result.Parameter.Value)
	if err != nil {
		return nil, false, fmt.Errorf("parameter %q: %w", name, err)
	}
	return v, true, nil
}

// Set implements kv.KeyValueStore.
func (s *SSMStore) Set(ctx context.Context, key string, value any) error {
	n, text, err := s.prepare(ctx, value)
	if err != nil {
		return err
	}
	if err := s.ensureClient(ctx); err != nil {
		return err
	}

	name := s.ParameterName(key)
	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(text),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %q: %w", name, err)
	}
	s.notifier.Written(key, n)
	return nil
}
