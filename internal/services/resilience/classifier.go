package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ternarybob/metior/internal/models"
)

// pattern maps an error-message substring to a kind. Patterns are checked in
// order; the first match wins, so the more specific entries come first.
type pattern struct {
	substr string
	kind   models.ErrorKind
}

// patternTable covers the failure text chromedp, net, and the target site
// produce. Matching is case-insensitive.
var patternTable = []pattern{
	// Browser lifecycle failures before anything more specific
	{"target closed", models.ErrorKindBrowserCrash},
	{"target crashed", models.ErrorKindBrowserCrash},
	{"browser closed", models.ErrorKindBrowserCrash},
	{"page crashed", models.ErrorKindBrowserCrash},
	{"session not created", models.ErrorKindBrowserCrash},
	{"chrome failed to start", models.ErrorKindBrowserCrash},
	{"websocket: close", models.ErrorKindBrowserCrash},

	{"invalid credentials", models.ErrorKindCredential},
	{"master key", models.ErrorKindCredential},
	{"decrypt", models.ErrorKindCredential},
	{"credential", models.ErrorKindCredential},

	{"login failed", models.ErrorKindAuthentication},
	{"sign in", models.ErrorKindAuthentication},
	{"session expired", models.ErrorKindAuthentication},
	{"not logged in", models.ErrorKindAuthentication},
	{"unauthorized", models.ErrorKindAuthentication},
	{"authentication", models.ErrorKindAuthentication},

	{"element not found", models.ErrorKindElementNotFound},
	{"no such element", models.ErrorKindElementNotFound},
	{"node not found", models.ErrorKindElementNotFound},
	{"waiting for selector", models.ErrorKindElementNotFound},
	{"could not find node", models.ErrorKindElementNotFound},

	{"form submission", models.ErrorKindFormSubmission},
	{"submit failed", models.ErrorKindFormSubmission},
	{"save failed", models.ErrorKindFormSubmission},

	{"page load", models.ErrorKindPageLoad},
	{"navigation failed", models.ErrorKindPageLoad},
	{"net::err_aborted", models.ErrorKindPageLoad},
	{"document unloaded", models.ErrorKindPageLoad},

	{"timeout", models.ErrorKindTimeout},
	{"timed out", models.ErrorKindTimeout},
	{"deadline exceeded", models.ErrorKindTimeout},

	{"net::err", models.ErrorKindNetwork},
	{"connection refused", models.ErrorKindNetwork},
	{"connection reset", models.ErrorKindNetwork},
	{"no such host", models.ErrorKindNetwork},
	{"dial tcp", models.ErrorKindNetwork},
	{"dns", models.ErrorKindNetwork},
	{"network", models.ErrorKindNetwork},

	{"scrape", models.ErrorKindScraping},
	{"extract", models.ErrorKindScraping},
	{"no work orders parsed", models.ErrorKindScraping},

	{"validation", models.ErrorKindValidation},
	{"required field", models.ErrorKindValidation},
	{"invalid value", models.ErrorKindValidation},
}

// Classify maps an error to its recovery kind. Tagged errors win, then known
// stdlib categories, then the substring table, else unknown.
func (s *Service) Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindUnknown
	}

	var classified *models.ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := errorCodeKinds[apiErr.Code]; ok {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.ErrorKindTimeout
		}
		return models.ErrorKindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.ErrorKindNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patternTable {
		if strings.Contains(msg, p.substr) {
			return p.kind
		}
	}

	return models.ErrorKindUnknown
}

// errorCodeKinds maps API error codes to recovery kinds
var errorCodeKinds = map[models.ErrorCode]models.ErrorKind{
	models.CodeWorkFossaAuthFailed: models.ErrorKindAuthentication,
	models.CodeInvalidCredentials:  models.ErrorKindAuthentication,
	models.CodeTokenExpired:        models.ErrorKindAuthentication,
	models.CodeCredentialError:     models.ErrorKindCredential,
	models.CodePageLoadFailed:      models.ErrorKindPageLoad,
	models.CodeBrowserInitFailed:   models.ErrorKindBrowserCrash,
	models.CodeValidationError:     models.ErrorKindValidation,
	models.CodeExternalService:     models.ErrorKindNetwork,
}
