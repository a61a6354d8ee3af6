// Package secrets reads the platform password from AWS Secrets Manager.
//
// The secret holds either the bare password or a JSON object with a
// "password" key. Secret values are never logged.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/JonMunkholm/batchupload/internal/logging"
)

// AWS error codes.
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrSecretEmpty    = errors.New("secret value is empty")
	ErrAccessDenied   = errors.New("access denied to secret")
)

// ManagerAPI is the part of the Secrets Manager client used here.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver fetches passwords by secret id.
type Resolver struct {
	api ManagerAPI
}

// NewResolver builds a resolver from the default AWS credential chain.
func NewResolver(ctx context.Context) (*Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewResolverWithAPI(secretsmanager.NewFromConfig(cfg)), nil
}

// NewResolverWithAPI wraps an existing client.
func NewResolverWithAPI(api ManagerAPI) *Resolver {
	return &Resolver{api: api}
}

// Password returns the password stored under secretID.
func (r *Resolver) Password(ctx context.Context, secretID string) (string, error) {
	log := logging.FromContext(ctx)
	log.Debug("fetching password from secrets manager", slog.String("secret_id", secretID))

	out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case ResourceNotFoundException:
				return "", fmt.Errorf("secret %s: %w", secretID, ErrSecretNotFound)
			case AccessDeniedException:
				return "", fmt.Errorf("secret %s: %w", secretID, ErrAccessDenied)
			}
			return "", fmt.Errorf("secret %s: %s: %s", secretID, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return "", fmt.Errorf("secret %s: %w", secretID, err)
	}

	password, err := parsePassword(aws.ToString(out.SecretString))
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", secretID, err)
	}
	return password, nil
}

func parsePassword(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrSecretEmpty
	}
	if !strings.HasPrefix(value, "{") {
		return value, nil
	}

	var doc struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return "", fmt.Errorf("secret is not valid JSON: %w", err)
	}
	if doc.Password == "" {
		return "", ErrSecretEmpty
	}
	return doc.Password, nil
}
