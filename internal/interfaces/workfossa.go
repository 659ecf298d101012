package interfaces

import (
	"context"

	"github.com/ternarybob/metior/internal/models"
)

// LoginResult distinguishes credential rejections from transient failures.
// Only a login page still present after submit means invalid credentials;
// transport errors are always transient.
type LoginResult struct {
	OK            bool
	FailureReason models.ErrorKind
	Message       string
}

// SiteDriver is the opaque capability set for the WorkFossa site. All
// navigations run under the caller's context and are wrapped by the
// recovery harness keyed by their error kind.
type SiteDriver interface {
	// Login navigates to the login endpoint, fills email + password,
	// submits, and waits for a navigation or visible success indicator.
	Login(ctx context.Context, session Session, username, password string) (*LoginResult, error)

	// GoToList navigates to the work-order list with the
	// "no visits completed" filter applied.
	GoToList(ctx context.Context, session Session) error

	// SetPageSize tries to raise the list page size. Failure is logged,
	// never fatal; scraping proceeds at the default size.
	SetPageSize(ctx context.Context, session Session, size int) error

	// GoToVisit navigates to a visit page and waits for first meaningful
	// content with a bounded wait, falling back to a fixed delay.
	GoToVisit(ctx context.Context, session Session, url string) error

	// GoToCustomer navigates to a customer location page, same wait contract.
	GoToCustomer(ctx context.Context, session Session, url string) error

	// VerifyCredentials performs a live login check without keeping the
	// session. In dev mode it accepts any user@domain plus a non-empty
	// password without touching the site.
	VerifyCredentials(ctx context.Context, username, password string) (*models.CredentialTestResult, error)
}
