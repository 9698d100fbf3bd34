// SPDX-License-Identifier: MPL-2.0

package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

const (
	// MaxSessionDuration is the longest session STS allows for a role.
	MaxSessionDuration = 12 * time.Hour
	// FallbackSessionDuration is used when a role's policy (or role chaining)
	// caps sessions below the maximum.
	FallbackSessionDuration = time.Hour

	// SourceAssumedRole marks time-bounded credentials from AssumeRole.
	SourceAssumedRole = "assumed-role"
	// SourceAmbient marks locally resolved credentials.
	SourceAmbient = "ambient"

	sessionNamePrefix = "stackbind-"
)

// ErrRoleAssumption is returned when a role could not be assumed with either
// duration. Callers fall back to ambient credentials.
var ErrRoleAssumption = errors.New("role assumption failed")

type (
	// Credentials are the cloud credentials injected into the bound command.
	Credentials struct {
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
		// Expiration is zero for credentials that do not expire.
		Expiration time.Time
		Source     string
	}

	// AssumeRoleAPI is the STS call the Broker depends on.
	AssumeRoleAPI interface {
		AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	}

	// Broker resolves credentials for a bind session.
	Broker struct {
		sts     AssumeRoleAPI
		ambient aws.CredentialsProvider
	}
)

// NewBroker creates a Broker. ambient resolves local credentials.
func NewBroker(api AssumeRoleAPI, ambient aws.CredentialsProvider) *Broker {
	return &Broker{sts: api, ambient: ambient}
}

// Expires reports whether the credentials carry an expiration.
func (c Credentials) Expires() bool { return !c.Expiration.IsZero() }

// Env returns the credential environment variables.
func (c Credentials) Env() map[string]string {
	env := map[string]string{
		"AWS_ACCESS_KEY_ID":     c.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": c.SecretAccessKey,
	}
	if c.SessionToken != "" {
		env["AWS_SESSION_TOKEN"] = c.SessionToken
	}
	return env
}

// AssumeRole assumes roleArn for the maximum session duration, retrying once
// with FallbackSessionDuration when STS rejects the duration. Any remaining
// failure wraps ErrRoleAssumption.
func (b *Broker) AssumeRole(ctx context.Context, roleArn string) (Credentials, error) {
	creds, err := b.assume(ctx, roleArn, MaxSessionDuration)
	if err != nil && isDurationExceeded(err) {
		slog.Debug("role caps session duration, retrying with fallback",
			"role", roleArn, "duration", FallbackSessionDuration)
		creds, err = b.assume(ctx, roleArn, FallbackSessionDuration)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %s: %w", ErrRoleAssumption, roleArn, err)
	}
	return creds, nil
}

// Ambient resolves the local credentials.
func (b *Broker) Ambient(ctx context.Context) (Credentials, error) {
	if b.ambient == nil {
		return Credentials{}, errors.New("no local credential provider configured")
	}
	c, err := b.ambient.Retrieve(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve local credentials: %w", err)
	}
	// Expiring ambient credentials are refreshed by their provider, so they
	// never arm a refresh timer.
	return Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          SourceAmbient,
	}, nil
}

func (b *Broker) assume(ctx context.Context, roleArn string, d time.Duration) (Credentials, error) {
	out, err := b.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(sessionName()),
		DurationSeconds: aws.Int32(int32(d / time.Second)),
	})
	if err != nil {
		return Credentials{}, err
	}
	if out.Credentials == nil {
		return Credentials{}, errors.New("response carried no credentials")
	}
	return Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration),
		Source:          SourceAssumedRole,
	}, nil
}

// isDurationExceeded matches STS's rejection of DurationSeconds above the
// role's MaxSessionDuration or the role-chaining limit.
func isDurationExceeded(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "DurationSeconds exceeds")
}

func sessionName() string {
	id := uuid.New()
	return sessionNamePrefix + strings.ReplaceAll(id.String(), "-", "")[:8]
}
