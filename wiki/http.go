package wiki

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// adapts retryablehttp's leveled logging onto slog. Client ERROR drops to
// WARN (failures get retried), retry DEBUG rises to INFO.
type retryLogger struct {
	inner *slog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

// RobustHTTPClient returns an HTTP client with general-purpose timeout and
// retry defaults for Action API traffic. It retries connection errors, 5xx
// responses and 429s, respecting Retry-After, which is also how the API's
// maxlag etiquette asks clients to back off. The returned client has the
// stdlib http.Client interface with retryablehttp logic inside.
func RobustHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(retryLogger{slog.Default().With("subsystem", "http")})
	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}
