package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// ParameterGetter is the subset of the SSM client used to fetch the API key.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NewSSMClient builds an SSM client from the default AWS credential chain.
func NewSSMClient(ctx context.Context) (*ssm.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return ssm.NewFromConfig(cfg), nil
}

// ResolveAPIKey fills c.APIKey from SSM Parameter Store when the key was
// not provided directly and SSM_API_KEY_PARAM names a parameter.
// It is a no-op when the key is already set or no parameter is configured.
func (c *Config) ResolveAPIKey(ctx context.Context, client ParameterGetter) error {
	if c.APIKey != "" || c.SSMAPIKeyParam == "" {
		return nil
	}
	if client == nil {
		return errors.New("SSM_API_KEY_PARAM is set but no SSM client is available")
	}

	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.SSMAPIKeyParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read API key from SSM parameter %s: %w", c.SSMAPIKeyParam, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return fmt.Errorf("SSM parameter %s is empty", c.SSMAPIKeyParam)
	}

	c.APIKey = aws.ToString(result.Parameter.Value)
	c.APIKeySource = "ssm"
	log.Debug().Str("param", c.SSMAPIKeyParam).Dur("elapsed", time.Since(start)).Msg("API key loaded from SSM")
	return nil
}
