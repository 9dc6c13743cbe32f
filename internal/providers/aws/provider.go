package aws

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const Type = "aws"

// session duration bounds of AssumeRoleWithWebIdentity
const (
	MinSessionDuration = 15 * time.Minute
	MaxSessionDuration = 12 * time.Hour
)

var info = core.ProviderInfo{
	Type:    Type,
	Version: "v1",
}

var (
	_ core.CredentialIssuer = (*Provider)(nil)
	_ core.RoleValidator    = (*Provider)(nil)
)

// STS error codes that mean the request itself was rejected. Retrying them is pointless.
var deniedCodes = map[string]struct{}{
	"AccessDenied":                {},
	"InvalidIdentityToken":        {},
	"ExpiredTokenException":       {},
	"IDPRejectedClaim":            {},
	"MalformedPolicyDocument":     {},
	"PackedPolicyTooLarge":        {},
	"RegionDisabledException":     {},
	"ValidationError":             {},
	"InvalidParameterValue":       {},
	"InvalidClientTokenId":        {},
	"AccessDeniedException":       {},
	"UnrecognizedClientException": {},
}

// STSClient is the part of the STS API used by the provider.
type STSClient interface {
	AssumeRoleWithWebIdentity(
		ctx context.Context,
		params *sts.AssumeRoleWithWebIdentityInput,
		optFns ...func(*sts.Options),
	) (*sts.AssumeRoleWithWebIdentityOutput, error)
}

// Provider exchanges the caller's identity token for temporary AWS credentials
// through AssumeRoleWithWebIdentity. The target role is an IAM role ARN.
type Provider struct {
	name          string
	client        STSClient
	sessionPrefix string
}

type ProviderConfig struct {
	Region string `mapstructure:"region"`

	// Optional: STS endpoint override, e.g. for FIPS or VPC endpoints.
	Endpoint string `mapstructure:"endpoint"`

	// SessionPrefix is prepended to the role session name. Defaults to "keyless".
	SessionPrefix string `mapstructure:"session_prefix"`
}

func New(name string, client STSClient, sessionPrefix string) *Provider {
	if sessionPrefix == "" {
		sessionPrefix = "keyless"
	}
	return &Provider{
		name:          name,
		client:        client,
		sessionPrefix: sessionPrefix,
	}
}

func NewFromConfig(ctx context.Context, cfg config.ProviderConfig) (*Provider, error) {
	var conf ProviderConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &conf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder for %s provider '%s': %w", Type, cfg.Name, err)
	}
	if err := decoder.Decode(cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config for %s provider '%s': %w", Type, cfg.Name, err)
	}
	if conf.Region == "" {
		return nil, fmt.Errorf("%s provider '%s' missing 'region'", Type, cfg.Name)
	}

	// web identity calls are unsigned, no local AWS credentials are needed
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(conf.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for provider '%s': %w", cfg.Name, err)
	}

	client := sts.NewFromConfig(awsCfg, func(o *sts.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
	})
	return New(cfg.Name, client, conf.SessionPrefix), nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Info() core.ProviderInfo {
	return info
}

// ValidateRole checks that role is an IAM role ARN in any partition.
func (p *Provider) ValidateRole(role string) error {
	parsed, err := arn.Parse(role)
	if err != nil {
		return fmt.Errorf("invalid role ARN '%s': %w", role, err)
	}
	if parsed.Service != "iam" {
		return fmt.Errorf("not an IAM ARN: %s", role)
	}
	if !strings.HasPrefix(parsed.Resource, "role/") {
		return fmt.Errorf("not an IAM role ARN: %s", role)
	}
	return nil
}

func (p *Provider) IssueCredential(ctx context.Context, req core.IssueRequest) (*core.Credential, error) {
	if err := p.ValidateRole(req.TargetRole); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderDenied, err)
	}
	if req.Lifetime < MinSessionDuration {
		return nil, fmt.Errorf("%w: lifetime %s is below the STS minimum of %s",
			core.ErrProviderDenied, req.Lifetime, MinSessionDuration)
	}
	lifetime := min(req.Lifetime, MaxSessionDuration)

	out, err := p.client.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(req.TargetRole),
		RoleSessionName:  aws.String(SessionName(p.sessionPrefix, req.SessionName)),
		WebIdentityToken: aws.String(req.SubjectToken),
		DurationSeconds:  aws.Int32(int32(lifetime / time.Second)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if out == nil || out.Credentials == nil {
		return nil, fmt.Errorf("sts returned no credentials")
	}

	var assumed string
	if out.AssumedRoleUser != nil {
		assumed = aws.ToString(out.AssumedRoleUser.Arn)
	}
	log.Ctx(ctx).Debug().
		Str("role", req.TargetRole).
		Str("assumed_role", assumed).
		Msg("assumed role with web identity")

	return &core.Credential{
		Provider:     p.name,
		TargetRole:   req.TargetRole,
		AccessKeyID:  aws.ToString(out.Credentials.AccessKeyId),
		Secret:       aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken: aws.ToString(out.Credentials.SessionToken),
		ExpiresAt:    aws.ToTime(out.Credentials.Expiration),
		Metadata: map[string]string{
			"assumed_role_arn": assumed,
		},
	}, nil
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, denied := deniedCodes[apiErr.ErrorCode()]; denied {
			return fmt.Errorf("%w: %s: %s", core.ErrProviderDenied, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("sts AssumeRoleWithWebIdentity: %w", err)
}

var sessionNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_+=,.@-]`)

// SessionName builds a valid RoleSessionName: 2-64 characters out of
// letters, digits and _+=,.@-
func SessionName(prefix, name string) string {
	s := prefix
	if name != "" {
		s += "-" + name
	}
	s = sessionNameInvalid.ReplaceAllString(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	for len(s) < 2 {
		s += "-"
	}
	return s
}
