package fail

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/backend/provider"
	"github.com/furisto/batchinfer/frontend/cli/pkg/terminal"
	"github.com/furisto/batchinfer/shared/config"
)

const issuesURL = "https://github.com/furisto/batchinfer/issues/new"

type UserError struct {
	Cause       error
	UserMessage string
	Solutions   []string
	TechDetails string
	HelpURLs    []string
}

func (e *UserError) Error() string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("%s %s\n\n", terminal.ErrorSymbol, terminal.Bold(e.UserMessage)))

	if len(e.Solutions) > 0 {
		msg.WriteString(fmt.Sprintf("%s Try these solutions:\n", terminal.InfoSymbol))
		for i, solution := range e.Solutions {
			msg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
		msg.WriteString("\n")
	}

	if e.TechDetails != "" {
		msg.WriteString(fmt.Sprintf("Technical details: %s\n", e.TechDetails))
	}

	if len(e.HelpURLs) > 0 {
		msg.WriteString("If the problem persists:\n")
		for _, url := range e.HelpURLs {
			msg.WriteString(fmt.Sprintf("%s %s\n", terminal.LinkSymbol, url))
		}
	}

	return msg.String()
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func NewPermissionError(path string, err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: fmt.Sprintf("Permission denied accessing %s", path),
		Solutions: []string{
			"Check file permissions and ownership",
			"Ensure you have write access to the cache directory",
			"Point cache_dir at a writable location",
		},
		TechDetails: fmt.Sprintf("Failed to access %s: %v", path, err),
		HelpURLs:    []string{issuesURL},
	}
}

func NewProviderConfigError(kind string, err error) *UserError {
	var solutions []string
	switch kind {
	case "bedrock":
		solutions = []string{
			"Export AWS_ACCESS_KEY and AWS_SECRET_KEY (or AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY)",
			"Set provider.access_key and provider.secret_key in the config file",
			"Add the variables to a .env file in the working directory",
		}
	case "openai":
		solutions = []string{
			"Export OPENAI_API_KEY or BATCHINFER_API_KEY",
			"Set provider.api_key in the config file",
			"Use provider.base_url to target an OpenAI-compatible host",
		}
	case "anthropic":
		solutions = []string{
			"Export ANTHROPIC_API_KEY or BATCHINFER_API_KEY",
			"Set provider.api_key in the config file",
		}
	default:
		solutions = []string{
			"Set provider.kind to one of bedrock, openai or anthropic",
			"Override the provider with --provider",
		}
	}

	return &UserError{
		Cause:       err,
		UserMessage: fmt.Sprintf("Provider %q is not configured correctly", kind),
		Solutions:   solutions,
		TechDetails: err.Error(),
	}
}

func NewCacheCorruptionError(task string, err *cache.CorruptionError) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "A cached completion could not be read",
		Solutions: []string{
			fmt.Sprintf("Remove the damaged file: %s", err.Path),
			fmt.Sprintf("Prune the task and refetch: batchinfer cache prune --task %s", task),
		},
		TechDetails: err.Error(),
		HelpURLs:    []string{issuesURL},
	}
}

func NewInputError(source string, line int, err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: fmt.Sprintf("Could not parse line %d of %s", line, source),
		Solutions: []string{
			`Write one conversation per line as {"messages":[{"role":"user","content":[{"type":"text","text":"..."}]}]}`,
			"Or write one plain-text prompt per line",
		},
		TechDetails: err.Error(),
	}
}

// EnhanceError wraps well-known failures into a UserError. Anything it does
// not recognize is returned unchanged.
func EnhanceError(err error, task string) error {
	if err == nil {
		return nil
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return err
	}

	var corruptErr *cache.CorruptionError
	if errors.As(err, &corruptErr) {
		return NewCacheCorruptionError(task, corruptErr)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && os.IsPermission(err) {
		return NewPermissionError(pathErr.Path, err)
	}

	if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, provider.ErrInvalidConfig) {
		return &UserError{
			Cause:       err,
			UserMessage: "The configuration is invalid",
			Solutions: []string{
				"Check the config file against the documented keys",
				"Unset BATCHINFER_* environment variables that may override it",
			},
			TechDetails: err.Error(),
		}
	}

	return err
}
