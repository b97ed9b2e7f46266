package keysource

import (
	"context"
	"fmt"
	"os"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"
)

// AkeylessAPI is the part of the Akeyless gateway API used here.
type AkeylessAPI interface {
	Authenticate(ctx context.Context, accessID, accessKey string) (string, error)
	GetSecretValue(ctx context.Context, token, path string) (string, error)
}

type akeylessSDK struct {
	client *akeyless.APIClient
}

func newAkeylessSDK(gatewayURL string) *akeylessSDK {
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{{URL: gatewayURL}}
	return &akeylessSDK{client: akeyless.NewAPIClient(configuration)}
}

func (a *akeylessSDK) Authenticate(ctx context.Context, accessID, accessKey string) (string, error) {
	body := akeyless.NewAuthWithDefaults()
	body.SetAccessId(accessID)
	body.SetAccessKey(accessKey)
	res, _, err := a.client.V2Api.Auth(ctx).Body(*body).Execute()
	if err != nil {
		return "", fmt.Errorf("api key authentication failed: %w", err)
	}
	return res.GetToken(), nil
}

func (a *akeylessSDK) GetSecretValue(ctx context.Context, token, path string) (string, error) {
	body := akeyless.NewGetSecretValue([]string{path})
	body.SetToken(token)
	res, _, err := a.client.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		return "", err
	}
	value, ok := res[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return value, nil
}

// AkeylessSource reads the key from an Akeyless static secret using API key
// authentication.
type AkeylessSource struct {
	name         string
	path         string
	accessID     string
	accessKeyEnv string
	api          AkeylessAPI
}

func NewAkeylessSource(name string, cfg map[string]interface{}, api AkeylessAPI) (*AkeylessSource, error) {
	path, err := requireOpt(name, cfg, "path")
	if err != nil {
		return nil, err
	}
	accessID, err := requireOpt(name, cfg, "access_id")
	if err != nil {
		return nil, err
	}
	if api == nil {
		api = newAkeylessSDK(stringOpt(cfg, "gateway_url", "https://api.akeyless.io"))
	}
	return &AkeylessSource{
		name:         name,
		path:         path,
		accessID:     accessID,
		accessKeyEnv: stringOpt(cfg, "access_key_env", "AKEYLESS_ACCESS_KEY"),
		api:          api,
	}, nil
}

func NewAkeylessSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	return NewAkeylessSource(name, cfg, nil)
}

func (s *AkeylessSource) Name() string { return s.name }

func (s *AkeylessSource) Fetch(ctx context.Context) ([]byte, error) {
	accessKey := os.Getenv(s.accessKeyEnv)
	if accessKey == "" {
		return nil, &SourceError{Source: s.name, Op: "auth", Err: fmt.Errorf("%s is not set", s.accessKeyEnv)}
	}
	token, err := s.api.Authenticate(ctx, s.accessID, accessKey)
	if err != nil {
		return nil, &SourceError{Source: s.name, Op: "auth", Err: err}
	}
	value, err := s.api.GetSecretValue(ctx, token, s.path)
	if err != nil {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	return decodeMaterial(s.name, []byte(value))
}
