package keysource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureKeyVaultClientAPI is the subset of the Key Vault client used here.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureKeyVaultSource reads the key from a Key Vault secret.
type AzureKeyVaultSource struct {
	name    string
	secret  string
	version string
	client  AzureKeyVaultClientAPI
}

func NewAzureKeyVaultSource(name string, cfg map[string]interface{}, client AzureKeyVaultClientAPI) (*AzureKeyVaultSource, error) {
	secret, err := requireOpt(name, cfg, "secret_name")
	if err != nil {
		return nil, err
	}
	if client == nil {
		vaultURL, err := requireOpt(name, cfg, "vault_url")
		if err != nil {
			return nil, err
		}
		cred, err := azureCredential(cfg)
		if err != nil {
			return nil, &SourceError{Source: name, Op: "configure", Err: err}
		}
		c, err := azsecrets.NewClient(vaultURL, cred, nil)
		if err != nil {
			return nil, &SourceError{Source: name, Op: "configure", Err: err}
		}
		client = c
	}
	return &AzureKeyVaultSource{
		name:    name,
		secret:  secret,
		version: stringOpt(cfg, "version", ""),
		client:  client,
	}, nil
}

func NewAzureKeyVaultSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	return NewAzureKeyVaultSource(name, cfg, nil)
}

// azureCredential uses a service principal when one is configured and the
// default credential chain otherwise.
func azureCredential(cfg map[string]interface{}) (azcore.TokenCredential, error) {
	tenant := stringOpt(cfg, "tenant_id", "")
	clientID := stringOpt(cfg, "client_id", "")
	secretEnv := stringOpt(cfg, "client_secret_env", "AZURE_CLIENT_SECRET")
	if tenant != "" && clientID != "" {
		if secret := os.Getenv(secretEnv); secret != "" {
			return azidentity.NewClientSecretCredential(tenant, clientID, secret, nil)
		}
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

func (s *AzureKeyVaultSource) Name() string { return s.name }

func (s *AzureKeyVaultSource) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := s.client.GetSecret(ctx, s.secret, s.version, nil)
	if err != nil {
		var re *azcore.ResponseError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s", ErrNotFound, s.secret)}
		}
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	if resp.Value == nil {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s has no value", ErrNotFound, s.secret)}
	}
	return decodeMaterial(s.name, []byte(*resp.Value))
}
