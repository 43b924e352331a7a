package provision

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
)

type fakeVoiceCatalog struct {
	pages [][]string
	err   error
	calls int
}

func (f *fakeVoiceCatalog) DescribeVoices(_ context.Context, params *polly.DescribeVoicesInput, _ ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := f.calls
	f.calls++
	out := &polly.DescribeVoicesOutput{}
	for _, id := range f.pages[page] {
		out.Voices = append(out.Voices, pollytypes.Voice{Id: pollytypes.VoiceId(id)})
	}
	if page < len(f.pages)-1 {
		out.NextToken = aws.String(fmt.Sprintf("page-%d", page+1))
	}
	return out, nil
}

func TestValidateVoiceAcceptsCatalogEntry(t *testing.T) {
	t.Parallel()

	catalog := &fakeVoiceCatalog{pages: [][]string{{"Joanna", "Matthew"}, {"Amy"}}}
	v := NewPollyVoiceValidatorWithClient("us-east-1", catalog)

	for _, id := range []string{"Joanna", "Amy"} {
		if err := v.ValidateVoice(context.Background(), id); err != nil {
			t.Fatalf("expected %s to validate: %v", id, err)
		}
	}
	if err := v.ValidateVoice(context.Background(), "NoSuchVoice"); err == nil {
		t.Fatalf("expected unknown voice to fail")
	}
}

func TestValidateVoiceFetchesCatalogOnce(t *testing.T) {
	t.Parallel()

	catalog := &fakeVoiceCatalog{pages: [][]string{{"Joanna"}}}
	v := NewPollyVoiceValidatorWithClient("us-east-1", catalog)

	for i := 0; i < 3; i++ {
		if err := v.ValidateVoice(context.Background(), "Joanna"); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
	if catalog.calls != 1 {
		t.Fatalf("expected one catalog fetch, got %d", catalog.calls)
	}
}

func TestValidateVoiceRejectsUnreachableCatalog(t *testing.T) {
	t.Parallel()

	catalog := &fakeVoiceCatalog{err: fmt.Errorf("connection refused")}
	v := NewPollyVoiceValidatorWithClient("us-east-1", catalog)

	if err := v.ValidateVoice(context.Background(), "Joanna"); err == nil {
		t.Fatalf("expected unverifiable voice to fail validation")
	}
}

func TestValidateVoiceRequiresID(t *testing.T) {
	t.Parallel()

	v := NewPollyVoiceValidatorWithClient("us-east-1", &fakeVoiceCatalog{pages: [][]string{{"Joanna"}}})
	if err := v.ValidateVoice(context.Background(), "  "); err == nil {
		t.Fatalf("expected blank voice id to fail")
	}
}
