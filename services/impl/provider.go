package impl

import (
	"time"

	"github.com/openai/openai-go/v3/option"
)

// providerClientOptions builds the shared client options for the embedding
// and chat providers: credentials, an optional base URL override, and the
// configured per-request timeout in seconds.
func providerClientOptions(baseURL, apiKey string, timeoutSeconds int) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(timeoutSeconds)*time.Second))
	}
	return opts
}
