package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/smithy-go"
)

// VoiceValidator checks a behavior script's voice identity before an agent
// profile is created with it.
type VoiceValidator interface {
	ValidateVoice(ctx context.Context, voiceID string) error
}

type describeVoicesClient interface {
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// PollyVoiceValidator validates voice ids against the Amazon Polly voice
// catalog. The catalog is fetched once and cached for the process lifetime.
type PollyVoiceValidator struct {
	region  string
	timeout time.Duration

	mu     sync.Mutex
	client describeVoicesClient
	known  map[string]struct{}
}

// NewPollyVoiceValidator creates a validator for one region.
func NewPollyVoiceValidator(region string) *PollyVoiceValidator {
	return NewPollyVoiceValidatorWithClient(region, nil)
}

// NewPollyVoiceValidatorWithClient injects a catalog client for tests.
func NewPollyVoiceValidatorWithClient(region string, client describeVoicesClient) *PollyVoiceValidator {
	if strings.TrimSpace(region) == "" {
		region = "us-east-1"
	}
	return &PollyVoiceValidator{
		region:  region,
		timeout: 15 * time.Second,
		client:  client,
	}
}

// ValidateVoice reports an error when the voice id is not in the catalog.
// Catalog fetch failures are validation errors too: an unverifiable voice
// must not reach agent creation.
func (v *PollyVoiceValidator) ValidateVoice(ctx context.Context, voiceID string) error {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return fmt.Errorf("voice id is required")
	}

	known, err := v.catalog(ctx)
	if err != nil {
		return err
	}
	if _, ok := known[voiceID]; !ok {
		return fmt.Errorf("unknown voice %q", voiceID)
	}
	return nil
}

func (v *PollyVoiceValidator) catalog(ctx context.Context) (map[string]struct{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.known != nil {
		return v.known, nil
	}
	if v.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(v.region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		v.client = polly.NewFromConfig(awsCfg)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	known := map[string]struct{}{}
	var nextToken *string
	for {
		output, err := v.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{NextToken: nextToken})
		if err != nil {
			return nil, normalizeVoiceCatalogError(err)
		}
		for _, voice := range output.Voices {
			known[string(voice.Id)] = struct{}{}
		}
		if output.NextToken == nil || *output.NextToken == "" {
			break
		}
		nextToken = output.NextToken
	}

	v.known = known
	return known, nil
}

func normalizeVoiceCatalogError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("voice catalog rejected: %s: %w", apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("voice catalog unreachable: %w", err)
}
