package keysource

import (
	"context"
	"fmt"
	"hash/crc32"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPSecretAccessor is the subset of the Secret Manager client used here.
type GCPSecretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

type gcpClient struct {
	client *secretmanager.Client
}

func (g gcpClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return g.client.AccessSecretVersion(ctx, req)
}

// GCPSecretManagerSource reads the key from a Secret Manager version.
type GCPSecretManagerSource struct {
	name     string
	resource string
	client   GCPSecretAccessor
}

// NewGCPSecretManagerSource builds a source. resource is either a full
// version name or, with project set, a secret id.
func NewGCPSecretManagerSource(ctx context.Context, name string, cfg map[string]interface{}, client GCPSecretAccessor) (*GCPSecretManagerSource, error) {
	secret, err := requireOpt(name, cfg, "secret")
	if err != nil {
		return nil, err
	}
	resource := secret
	if project := stringOpt(cfg, "project", ""); project != "" {
		resource = fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, secret, stringOpt(cfg, "version", "latest"))
	}

	if client == nil {
		var opts []option.ClientOption
		if path := stringOpt(cfg, "credentials_file", ""); path != "" {
			opts = append(opts, option.WithCredentialsFile(expandHome(path)))
		}
		c, err := secretmanager.NewClient(ctx, opts...)
		if err != nil {
			return nil, &SourceError{Source: name, Op: "configure", Err: err}
		}
		client = gcpClient{client: c}
	}
	return &GCPSecretManagerSource{name: name, resource: resource, client: client}, nil
}

func NewGCPSecretManagerSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	return NewGCPSecretManagerSource(context.Background(), name, cfg, nil)
}

func (s *GCPSecretManagerSource) Name() string { return s.name }

func (s *GCPSecretManagerSource) Fetch(ctx context.Context) ([]byte, error) {
	res, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: s.resource})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s", ErrNotFound, s.resource)}
		}
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	payload := res.GetPayload()
	if payload == nil || len(payload.GetData()) == 0 {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s is empty", ErrNotFound, s.resource)}
	}
	if payload.DataCrc32C != nil {
		sum := crc32.Checksum(payload.GetData(), crc32.MakeTable(crc32.Castagnoli))
		if int64(sum) != payload.GetDataCrc32C() {
			return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("payload checksum mismatch")}
		}
	}
	return decodeMaterial(s.name, payload.GetData())
}
