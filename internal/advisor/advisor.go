// Package advisor provides an optional, read-only merge conflict advisor.
// It sends conflicted file content to an LLM and returns a suggested
// resolution as plain text. It never writes to the repository and its
// output never feeds back into the merge Merger — a human (or the agent
// that owns the conflicted branch) decides what to do with the advice.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	mqconfig "github.com/mergequeue/mqd/internal/config"
)

// Advisor produces conflict resolution suggestions for a merge queue entry.
type Advisor struct {
	client anthropic.Client
	model  anthropic.Model
}

// New builds an Advisor from the daemon's configuration, routing through
// AWS Bedrock when UseAWSBedrock is set. Outside of Bedrock, the API key is
// resolved through config.GetAPIKey, which falls back to the
// ANTHROPIC_API_KEY environment variable when the config file has none.
func New(cfg *mqconfig.Config) (*Advisor, error) {
	var opts []option.RequestOption

	if cfg.Anthropic.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.Anthropic.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.Anthropic.AWSRegion))
		}
		if cfg.Anthropic.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Anthropic.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		key, err := mqconfig.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("advisor: %w", err)
		}
		opts = append(opts, option.WithAPIKey(key))
	}

	model := anthropic.ModelClaudeSonnet4_20250514
	if cfg.Anthropic.UseAWSBedrock {
		model = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	}

	return &Advisor{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// ConflictFile is one conflicted file's content, markers included.
type ConflictFile struct {
	Path    string
	Content string
}

// Suggestion is the advisor's read-only output for one conflicted file.
type Suggestion struct {
	Path       string
	Resolution string
}

// Advise asks the model for a suggested resolution for each conflicted
// file and returns one Suggestion per input file, in order. A failure on
// one file does not abort the others; its Suggestion carries the error
// text instead of a resolution.
func (a *Advisor) Advise(ctx context.Context, branch, targetBranch string, files []ConflictFile) ([]Suggestion, error) {
	suggestions := make([]Suggestion, 0, len(files))
	for _, f := range files {
		resolution, err := a.adviseOne(ctx, branch, targetBranch, f)
		if err != nil {
			suggestions = append(suggestions, Suggestion{Path: f.Path, Resolution: fmt.Sprintf("advisor error: %v", err)})
			continue
		}
		suggestions = append(suggestions, Suggestion{Path: f.Path, Resolution: resolution})
	}
	return suggestions, nil
}

func (a *Advisor) adviseOne(ctx context.Context, branch, targetBranch string, f ConflictFile) (string, error) {
	prompt := fmt.Sprintf(`A merge of branch %q into %q left the following file with unresolved
conflict markers. Suggest how to resolve the conflict, quoting the
specific lines that should be kept or changed. Do not rewrite the whole
file; be concise.

## File: %s

%s`, branch, targetBranch, f.Path, f.Content)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("advise %s: %w", f.Path, err)
	}

	return extractText(resp), nil
}

func extractText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += variant.Text
		}
	}
	return strings.TrimSpace(out)
}
