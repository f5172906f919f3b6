package delivery

import (
	"net/http"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
)

const (
	brandHeaderPrefix      = "hookline-"
	whitelabelHeaderPrefix = "webhook-"
)

// HeaderBuilder produces the outbound header set of a webhook call.
type HeaderBuilder struct {
	whitelabel bool
	userAgent  string
	logger     *zap.Logger
}

func NewHeaderBuilder(whitelabel bool, version string, logger *zap.Logger) *HeaderBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}

	return &HeaderBuilder{
		whitelabel: whitelabel,
		userAgent:  "Hookline-Webhooks/" + version,
		logger:     logger,
	}
}

// Build sets the id, timestamp and signature headers under a single naming
// scheme, then merges valid custom headers. Invalid custom headers are
// dropped with a warning.
func (b *HeaderBuilder) Build(timestamp int64, msgID string, signature string, custom map[string]string) http.Header {
	prefix := brandHeaderPrefix
	if b.whitelabel {
		prefix = whitelabelHeaderPrefix
	}

	headers := make(http.Header, 5+len(custom))
	headers.Set(prefix+"id", msgID)
	headers.Set(prefix+"timestamp", strconv.FormatInt(timestamp, 10))
	headers.Set(prefix+"signature", signature)
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", b.userAgent)

	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := custom[name]
		switch {
		case !domain.ValidHeaderName(name):
			b.logger.Warn("dropping custom header with invalid name", zap.String("header", name), zap.String("msgId", msgID))
		case !domain.ValidHeaderValue(value):
			b.logger.Warn("dropping custom header with invalid value", zap.String("header", name), zap.String("msgId", msgID))
		case domain.IsForbiddenHeader(name):
			b.logger.Warn("dropping forbidden custom header", zap.String("header", name), zap.String("msgId", msgID))
		default:
			headers.Set(name, value)
		}
	}

	return headers
}
