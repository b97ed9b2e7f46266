package keysource

import (
	"context"
	"encoding/json"
	"errors"
	"hash/crc32"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/internal/crypto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockSecretsManager struct {
	out   *secretsmanager.GetSecretValueOutput
	err   error
	input *secretsmanager.GetSecretValueInput
}

func (m *mockSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.input = in
	return m.out, m.err
}

func TestAWSSecretsManagerSource(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	encoded := crypto.EncodeKey(key, false)
	doc, err := json.Marshal(map[string]string{"master": encoded})
	require.NoError(t, err)

	tests := []struct {
		name     string
		cfg      map[string]interface{}
		out      *secretsmanager.GetSecretValueOutput
		err      error
		wantErr  error
		wantText string
	}{
		{
			name: "secret string",
			cfg:  map[string]interface{}{"secret_id": "cfgstore/key"},
			out:  &secretsmanager.GetSecretValueOutput{SecretString: aws.String(encoded)},
		},
		{
			name: "secret binary",
			cfg:  map[string]interface{}{"secret_id": "cfgstore/key"},
			out:  &secretsmanager.GetSecretValueOutput{SecretBinary: key},
		},
		{
			name: "json field",
			cfg:  map[string]interface{}{"secret_id": "cfgstore/key", "json_key": "master"},
			out:  &secretsmanager.GetSecretValueOutput{SecretString: aws.String(string(doc))},
		},
		{
			name:    "json field missing",
			cfg:     map[string]interface{}{"secret_id": "cfgstore/key", "json_key": "other"},
			out:     &secretsmanager.GetSecretValueOutput{SecretString: aws.String(string(doc))},
			wantErr: ErrNotFound,
		},
		{
			name:    "not found",
			cfg:     map[string]interface{}{"secret_id": "cfgstore/key"},
			err:     &smtypes.ResourceNotFoundException{Message: aws.String("no such secret")},
			wantErr: ErrNotFound,
		},
		{
			name:     "access denied",
			cfg:      map[string]interface{}{"secret_id": "cfgstore/key"},
			err:      errors.New("AccessDeniedException"),
			wantText: "AccessDeniedException",
		},
		{
			name:    "empty",
			cfg:     map[string]interface{}{"secret_id": "cfgstore/key"},
			out:     &secretsmanager.GetSecretValueOutput{},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &mockSecretsManager{out: tt.out, err: tt.err}
			src, err := NewAWSSecretsManagerSource(context.Background(), "aws.secretsmanager", tt.cfg, WithSecretsManagerClient(mock))
			require.NoError(t, err)

			got, err := src.Fetch(context.Background())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantText)
			default:
				require.NoError(t, err)
				assert.Equal(t, key, got)
				assert.Equal(t, "cfgstore/key", aws.ToString(mock.input.SecretId))
			}
		})
	}
}

type mockSSM struct {
	out   *ssm.GetParameterOutput
	err   error
	input *ssm.GetParameterInput
}

func (m *mockSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	m.input = in
	return m.out, m.err
}

func TestAWSSSMSource(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	mock := &mockSSM{out: &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(crypto.EncodeKey(key, true))}}}
	src, err := NewAWSSSMSource(context.Background(), "aws.ssm", map[string]interface{}{"parameter": "/cfgstore/key"}, WithSSMClient(mock))
	require.NoError(t, err)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.True(t, aws.ToBool(mock.input.WithDecryption))

	mock.err = &ssmtypes.ParameterNotFound{Message: aws.String("missing")}
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewAWSSSMSource(context.Background(), "aws.ssm", map[string]interface{}{}, WithSSMClient(mock))
	assert.Error(t, err)
}

type fakeGCP struct {
	res *secretmanagerpb.AccessSecretVersionResponse
	err error
	req *secretmanagerpb.AccessSecretVersionRequest
}

func (f *fakeGCP) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.req = req
	return f.res, f.err
}

func TestGCPSecretManagerSource(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	data := []byte(crypto.EncodeKey(key, false))
	sum := int64(crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)))

	fake := &fakeGCP{res: &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: data, DataCrc32C: &sum},
	}}
	src, err := NewGCPSecretManagerSource(context.Background(), "gcp.secretmanager",
		map[string]interface{}{"project": "acme", "secret": "cfgstore-key"}, fake)
	require.NoError(t, err)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.Equal(t, "projects/acme/secrets/cfgstore-key/versions/latest", fake.req.GetName())

	bad := sum + 1
	fake.res.Payload.DataCrc32C = &bad
	_, err = src.Fetch(context.Background())
	assert.ErrorContains(t, err, "checksum mismatch")

	fake.err = status.Error(codes.NotFound, "secret not found")
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	fake.err = status.Error(codes.PermissionDenied, "denied")
	_, err = src.Fetch(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

type fakeKeyVault struct {
	value *string
	err   error
	name  string
}

func (f *fakeKeyVault) GetSecret(_ context.Context, name string, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.name = name
	if f.err != nil {
		return azsecrets.GetSecretResponse{}, f.err
	}
	var resp azsecrets.GetSecretResponse
	resp.Value = f.value
	return resp, nil
}

func TestAzureKeyVaultSource(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	fake := &fakeKeyVault{value: aws.String(crypto.EncodeKey(key, false))}
	src, err := NewAzureKeyVaultSource("azure.keyvault", map[string]interface{}{"secret_name": "cfgstore-key"}, fake)
	require.NoError(t, err)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.Equal(t, "cfgstore-key", fake.name)

	fake.err = &azcore.ResponseError{StatusCode: 404, ErrorCode: "SecretNotFound"}
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	fake.err = nil
	fake.value = nil
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeAkeyless struct {
	token  string
	values map[string]string
	authed string
}

func (f *fakeAkeyless) Authenticate(_ context.Context, accessID, accessKey string) (string, error) {
	if accessKey != "key" {
		return "", errors.New("unauthorized")
	}
	f.authed = accessID
	return f.token, nil
}

func (f *fakeAkeyless) GetSecretValue(_ context.Context, token, path string) (string, error) {
	if token != f.token {
		return "", errors.New("bad token")
	}
	v, ok := f.values[path]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func TestAkeylessSource(t *testing.T) {
	t.Setenv("CFGSTORE_TEST_AKEYLESS", "key")

	key := testKey(t)
	fake := &fakeAkeyless{token: "t-1", values: map[string]string{"/cfgstore/key": crypto.EncodeKey(key, false)}}
	cfg := map[string]interface{}{
		"path":           "/cfgstore/key",
		"access_id":      "p-123",
		"access_key_env": "CFGSTORE_TEST_AKEYLESS",
	}
	src, err := NewAkeylessSource("akeyless", cfg, fake)
	require.NoError(t, err)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.Equal(t, "p-123", fake.authed)

	cfg["path"] = "/missing"
	missing, err := NewAkeylessSource("akeyless", cfg, fake)
	require.NoError(t, err)
	_, err = missing.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	t.Setenv("CFGSTORE_TEST_AKEYLESS", "wrong")
	_, err = src.Fetch(context.Background())
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "auth", se.Op)
}
