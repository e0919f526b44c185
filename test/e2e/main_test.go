//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

const localstackImage = "localstack/localstack:3.0.2"

var endpointURL string

func TestMain(m *testing.M) {
	ctx := context.Background()

	ctr, err := localstack.Run(ctx, localstackImage,
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3,ec2"}),
	)
	if err != nil {
		fmt.Printf("Failed to start LocalStack: %v\n", err)
		os.Exit(1)
	}

	endpointURL, err = ctr.PortEndpoint(ctx, "4566/tcp", "http")
	if err != nil {
		fmt.Printf("Failed to resolve LocalStack endpoint: %v\n", err)
		_ = testcontainers.TerminateContainer(ctr)
		os.Exit(1)
	}
	fmt.Printf("LocalStack mapped to %s\n", endpointURL)

	os.Setenv("AWS_ENDPOINT_URL", endpointURL)
	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	os.Setenv("AWS_REGION", "us-east-1")

	code := m.Run()

	if err := testcontainers.TerminateContainer(ctr); err != nil {
		fmt.Printf("Failed to terminate LocalStack: %v\n", err)
	}
	os.Exit(code)
}
