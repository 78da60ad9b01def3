package provider

import (
	"errors"
	"net/http"
	"testing"

	"assistgate/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

func TestClassifyConverseError(t *testing.T) {
	responseErr := func(status int) error {
		return &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{
					Response: &http.Response{StatusCode: status},
				},
				Err: errors.New("operation error Bedrock Runtime: Converse"),
			},
		}
	}

	t.Run("access denied is terminal", func(t *testing.T) {
		err := classifyConverseError(&types.AccessDeniedException{
			Message: aws.String("not authorized to invoke model"),
		})
		if err.Provider != domain.ProviderBedrock {
			t.Errorf("Expected bedrock provider, got %s", err.Provider)
		}
		if domain.IsRetryable(err) {
			t.Error("Access denied should not be retried")
		}
	})

	t.Run("validation failure is terminal", func(t *testing.T) {
		err := classifyConverseError(&types.ValidationException{
			Message: aws.String("malformed inference configuration"),
		})
		if domain.IsRetryable(err) {
			t.Error("Validation failure should not be retried")
		}
	})

	t.Run("throttling is retryable", func(t *testing.T) {
		if !domain.IsRetryable(classifyConverseError(&types.ThrottlingException{
			Message: aws.String("too many requests"),
		})) {
			t.Error("Throttling should be retried")
		}
	})

	t.Run("wrapped 403 response is terminal", func(t *testing.T) {
		if domain.IsRetryable(classifyConverseError(responseErr(403))) {
			t.Error("403 response should not be retried")
		}
	})

	t.Run("wrapped 500 response is retryable", func(t *testing.T) {
		if !domain.IsRetryable(classifyConverseError(responseErr(500))) {
			t.Error("500 response should be retried")
		}
	})

	t.Run("network failure is retryable", func(t *testing.T) {
		if !domain.IsRetryable(classifyConverseError(errors.New("dial tcp: connection refused"))) {
			t.Error("Network failure should be retried")
		}
	})
}
