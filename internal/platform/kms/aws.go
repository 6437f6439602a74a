package kms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// awsAPI is the subset of the AWS KMS client the adapter uses.
type awsAPI interface {
	CreateKey(ctx context.Context, params *awskms.CreateKeyInput, optFns ...func(*awskms.Options)) (*awskms.CreateKeyOutput, error)
	DescribeKey(ctx context.Context, params *awskms.DescribeKeyInput, optFns ...func(*awskms.Options)) (*awskms.DescribeKeyOutput, error)
	ListResourceTags(ctx context.Context, params *awskms.ListResourceTagsInput, optFns ...func(*awskms.Options)) (*awskms.ListResourceTagsOutput, error)
	DisableKey(ctx context.Context, params *awskms.DisableKeyInput, optFns ...func(*awskms.Options)) (*awskms.DisableKeyOutput, error)
	ListKeys(ctx context.Context, params *awskms.ListKeysInput, optFns ...func(*awskms.Options)) (*awskms.ListKeysOutput, error)
}

// AWSProvider manages customer master keys in AWS KMS. Rotation creates a
// fresh CMK carrying the same tenant/key-name tags so that each key version
// has its own provider identifier.
type AWSProvider struct {
	client awsAPI
}

// NewAWSProvider loads the default AWS config chain (env, shared config,
// IMDS) for the given region and returns a provider backed by AWS KMS.
func NewAWSProvider(ctx context.Context, region string) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSProvider{client: awskms.NewFromConfig(cfg)}, nil
}

// NewAWSProviderWithClient wires a preconstructed client; used by tests.
func NewAWSProviderWithClient(client awsAPI) *AWSProvider {
	return &AWSProvider{client: client}
}

func (p *AWSProvider) Name() string { return ProviderAWS }

func (p *AWSProvider) CreateKey(ctx context.Context, spec KeySpec) (string, error) {
	out, err := p.client.CreateKey(ctx, &awskms.CreateKeyInput{
		Description: aws.String(fmt.Sprintf("pms %s/%s", spec.TenantID, spec.KeyName)),
		KeySpec:     kmstypes.KeySpecSymmetricDefault,
		KeyUsage:    kmstypes.KeyUsageTypeEncryptDecrypt,
		Tags: []kmstypes.Tag{
			{TagKey: aws.String("pms:tenant"), TagValue: aws.String(spec.TenantID)},
			{TagKey: aws.String("pms:key-name"), TagValue: aws.String(spec.KeyName)},
			{TagKey: aws.String("pms:algorithm"), TagValue: aws.String(spec.Algorithm)},
		},
	})
	if err != nil {
		return "", p.wrap("create_key", "", err)
	}
	return aws.ToString(out.KeyMetadata.KeyId), nil
}

func (p *AWSProvider) RotateKey(ctx context.Context, kmsKeyID string) (string, error) {
	desc, err := p.client.DescribeKey(ctx, &awskms.DescribeKeyInput{KeyId: aws.String(kmsKeyID)})
	if err != nil {
		return "", p.wrap("rotate_key", kmsKeyID, err)
	}

	tags, err := p.client.ListResourceTags(ctx, &awskms.ListResourceTagsInput{KeyId: aws.String(kmsKeyID)})
	if err != nil {
		return "", p.wrap("rotate_key", kmsKeyID, err)
	}

	out, err := p.client.CreateKey(ctx, &awskms.CreateKeyInput{
		Description: desc.KeyMetadata.Description,
		KeySpec:     kmstypes.KeySpecSymmetricDefault,
		KeyUsage:    kmstypes.KeyUsageTypeEncryptDecrypt,
		Tags:        tags.Tags,
	})
	if err != nil {
		return "", p.wrap("rotate_key", kmsKeyID, err)
	}
	return aws.ToString(out.KeyMetadata.KeyId), nil
}

func (p *AWSProvider) DisableKey(ctx context.Context, kmsKeyID string) error {
	_, err := p.client.DisableKey(ctx, &awskms.DisableKeyInput{KeyId: aws.String(kmsKeyID)})
	if err != nil {
		return p.wrap("disable_key", kmsKeyID, err)
	}
	return nil
}

func (p *AWSProvider) Validate(ctx context.Context) error {
	_, err := p.client.ListKeys(ctx, &awskms.ListKeysInput{Limit: aws.Int32(1)})
	if err != nil {
		return p.wrap("validate", "", err)
	}
	return nil
}

// wrap classifies AWS KMS failures by error code. Throttling, provider-side
// outages, and timeouts are transient; everything else surfaces immediately.
func (p *AWSProvider) wrap(op, keyID string, err error) error {
	var notFound *kmstypes.NotFoundException
	if errors.As(err, &notFound) {
		return permanentErr(ProviderAWS, op, keyID, ErrKeyNotFound)
	}

	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "ThrottlingException", "KMSInternalException", "DependencyTimeoutException", "ServiceUnavailableException":
			return transientErr(ProviderAWS, op, keyID, err)
		default:
			return permanentErr(ProviderAWS, op, keyID, err)
		}
	}

	// No coded API error: connectivity-level failure.
	return transientErr(ProviderAWS, op, keyID, err)
}
