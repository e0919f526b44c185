//go:build e2e

package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	vmaws "github.com/DrSkyle/vmplace/pkg/providers/aws"
)

// newS3Client returns a path-style client for the LocalStack endpoint.
func newS3Client(t *testing.T) *s3.Client {
	t.Helper()
	cfg, err := vmaws.LoadConfig(context.Background(), "us-east-1", "", false)
	require.NoError(t, err)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

// createBucket creates a bucket named after the test.
func createBucket(t *testing.T, client *s3.Client, name string) {
	t.Helper()
	_, err := client.CreateBucket(context.Background(), &s3.CreateBucketInput{Bucket: aws.String(name)})
	require.NoError(t, err)
}

// buildBinary builds the CLI and returns its path.
func buildBinary(t *testing.T) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), "vmplace")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/vmplace")
	cmd.Dir = "../../"
	cmd.Env = os.Environ()
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Build failed: %s", out)
	}
	return binPath
}
