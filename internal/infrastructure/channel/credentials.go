package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/cassiomorais/channelsync/pkg/retry"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Locker serializes work on one key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Resolver hands out credentials with a usable access token, refreshing
// expired tokens at most once at a time per credential.
type Resolver struct {
	repo       channel.CredentialRepository
	locker     Locker
	httpClient *http.Client
	retry      retry.Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewResolver(
	repo channel.CredentialRepository,
	locker Locker,
	timeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Resolver {
	return &Resolver{
		repo:       repo,
		locker:     locker,
		httpClient: &http.Client{Timeout: timeout},
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		metrics: metrics,
		logger:  observability.Component(logger, "credential_resolver"),
		now:     time.Now,
	}
}

// Resolve loads credential id and rotates its token when it is expired or
// about to expire. Every failure wraps ErrCredentialUnresolvable except
// storage errors, which are returned as is.
func (r *Resolver) Resolve(ctx context.Context, id int64) (*channel.Credential, error) {
	cred, err := r.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domainErrors.ErrCredentialNotFound) {
			return nil, unresolvable(id, err)
		}
		return nil, err
	}
	if !cred.NeedsRefresh(r.now()) {
		return cred, nil
	}
	if !cred.CanRefresh() {
		return nil, unresolvable(id, errors.New("token expired and no refresh token is stored"))
	}

	err = r.locker.WithLock(ctx, strconv.FormatInt(id, 10), func(ctx context.Context) error {
		// Another worker may have rotated the token while we waited.
		fresh, err := r.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !fresh.NeedsRefresh(r.now()) {
			cred = fresh
			return nil
		}
		if err := r.refresh(ctx, fresh); err != nil {
			return err
		}
		cred = fresh
		return nil
	})
	if err != nil {
		return nil, unresolvable(id, err)
	}
	return cred, nil
}

// Invalidate forgets the access token so the next Resolve refreshes it.
func (r *Resolver) Invalidate(ctx context.Context, id int64) error {
	cred, err := r.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	cred.Rotate("", "", nil, r.now())
	return r.repo.SaveTokens(ctx, cred)
}

func (r *Resolver) refresh(ctx context.Context, cred *channel.Credential) error {
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	tok, err := retry.DoWithResult(ctx, r.retry, func() (*oauth2.Token, error) {
		tok, err := cfg.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			// invalid_grant and friends will not heal on their own
			return nil, retry.Permanent(err)
		}
		return tok, err
	})
	if err != nil {
		r.observe("failure")
		r.logger.Error().Err(err).Int64("credential_id", cred.ID).Msg("token refresh failed")
		return fmt.Errorf("refresh token: %w", err)
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		expiresAt = &exp
	}
	cred.Rotate(tok.AccessToken, tok.RefreshToken, expiresAt, r.now())
	if err := r.repo.SaveTokens(ctx, cred); err != nil {
		r.observe("failure")
		return fmt.Errorf("save rotated token: %w", err)
	}

	r.observe("success")
	r.logger.Info().Int64("credential_id", cred.ID).Msg("access token rotated")
	return nil
}

func (r *Resolver) observe(result string) {
	if r.metrics != nil {
		r.metrics.CredentialRefreshes.WithLabelValues(result).Inc()
	}
}

func unresolvable(id int64, err error) error {
	return fmt.Errorf("credential %d: %w: %w", id, domainErrors.ErrCredentialUnresolvable, err)
}
