package keysource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client used
// here.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SSMClientAPI is the subset of the SSM client used here.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// awsSettings are the connection options shared by the AWS sources.
type awsSettings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	AssumeRole      string
	ExternalID      string
	SessionName     string
}

func parseAWSSettings(cfg map[string]interface{}) awsSettings {
	return awsSettings{
		Region:          stringOpt(cfg, "region", "us-east-1"),
		Endpoint:        stringOpt(cfg, "endpoint", ""),
		AccessKeyID:     stringOpt(cfg, "access_key_id", ""),
		SecretAccessKey: stringOpt(cfg, "secret_access_key", ""),
		AssumeRole:      stringOpt(cfg, "assume_role", ""),
		ExternalID:      stringOpt(cfg, "external_id", ""),
		SessionName:     stringOpt(cfg, "role_session_name", fmt.Sprintf("cfgstore-%d", time.Now().Unix())),
	}
}

// loadAWSConfig resolves credentials the usual way and, when a role is
// configured, wraps them in an STS assume-role provider.
func loadAWSConfig(ctx context.Context, s awsSettings) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.Region)}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}

	if s.AssumeRole != "" {
		stsClient := sts.NewFromConfig(cfg, func(o *sts.Options) {
			if s.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.Endpoint)
			}
		})
		provider := stscreds.NewAssumeRoleProvider(stsClient, s.AssumeRole, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = s.SessionName
			if s.ExternalID != "" {
				o.ExternalID = aws.String(s.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}

// AWSSecretsManagerSource reads the key from a Secrets Manager secret. The
// secret may hold the encoded key, the raw 32 bytes, or a JSON object
// holding the encoded key under json_key.
type AWSSecretsManagerSource struct {
	name     string
	secretID string
	jsonKey  string
	client   SecretsManagerClientAPI
}

// AWSOption configures an AWS source.
type AWSOption func(*awsClients)

type awsClients struct {
	sm  SecretsManagerClientAPI
	ssm SSMClientAPI
}

// WithSecretsManagerClient injects a client, typically a mock.
func WithSecretsManagerClient(c SecretsManagerClientAPI) AWSOption {
	return func(a *awsClients) { a.sm = c }
}

// WithSSMClient injects a client, typically a mock.
func WithSSMClient(c SSMClientAPI) AWSOption {
	return func(a *awsClients) { a.ssm = c }
}

func NewAWSSecretsManagerSource(ctx context.Context, name string, cfg map[string]interface{}, opts ...AWSOption) (*AWSSecretsManagerSource, error) {
	secretID, err := requireOpt(name, cfg, "secret_id")
	if err != nil {
		return nil, err
	}
	clients := &awsClients{}
	for _, opt := range opts {
		opt(clients)
	}
	if clients.sm == nil {
		settings := parseAWSSettings(cfg)
		awsCfg, err := loadAWSConfig(ctx, settings)
		if err != nil {
			return nil, &SourceError{Source: name, Op: "configure", Err: err}
		}
		clients.sm = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if settings.Endpoint != "" {
				o.BaseEndpoint = aws.String(settings.Endpoint)
			}
		})
	}
	return &AWSSecretsManagerSource{
		name:     name,
		secretID: secretID,
		jsonKey:  stringOpt(cfg, "json_key", ""),
		client:   clients.sm,
	}, nil
}

func NewAWSSecretsManagerSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	return NewAWSSecretsManagerSource(context.Background(), name, cfg)
}

func (s *AWSSecretsManagerSource) Name() string { return s.name }

func (s *AWSSecretsManagerSource) Fetch(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(s.secretID)})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s", ErrNotFound, s.secretID)}
		}
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}

	switch {
	case out.SecretString != nil:
		raw := *out.SecretString
		if s.jsonKey != "" {
			v, err := extractJSONField(raw, s.jsonKey)
			if err != nil {
				return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
			}
			raw = v
		}
		return decodeMaterial(s.name, []byte(raw))
	case out.SecretBinary != nil:
		return decodeMaterial(s.name, out.SecretBinary)
	default:
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: secret %s has no value", ErrNotFound, s.secretID)}
	}
}

// AWSSSMSource reads the key from an SSM parameter, normally a
// SecureString.
type AWSSSMSource struct {
	name      string
	parameter string
	client    SSMClientAPI
}

func NewAWSSSMSource(ctx context.Context, name string, cfg map[string]interface{}, opts ...AWSOption) (*AWSSSMSource, error) {
	parameter, err := requireOpt(name, cfg, "parameter")
	if err != nil {
		return nil, err
	}
	clients := &awsClients{}
	for _, opt := range opts {
		opt(clients)
	}
	if clients.ssm == nil {
		settings := parseAWSSettings(cfg)
		awsCfg, err := loadAWSConfig(ctx, settings)
		if err != nil {
			return nil, &SourceError{Source: name, Op: "configure", Err: err}
		}
		clients.ssm = ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
			if settings.Endpoint != "" {
				o.BaseEndpoint = aws.String(settings.Endpoint)
			}
		})
	}
	return &AWSSSMSource{name: name, parameter: parameter, client: clients.ssm}, nil
}

func NewAWSSSMSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	return NewAWSSSMSource(context.Background(), name, cfg)
}

func (s *AWSSSMSource) Name() string { return s.name }

func (s *AWSSSMSource) Fetch(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.parameter),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s", ErrNotFound, s.parameter)}
		}
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: parameter %s has no value", ErrNotFound, s.parameter)}
	}
	return decodeMaterial(s.name, []byte(*out.Parameter.Value))
}

func extractJSONField(raw, field string) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("secret is not a JSON object: %w", err)
	}
	v, ok := doc[field].(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q", ErrNotFound, field)
	}
	return v, nil
}
