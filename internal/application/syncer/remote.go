package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	infraChannel "github.com/cassiomorais/channelsync/internal/infrastructure/channel"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const maxStoredResponse = 8 << 10

// CredentialResolver hands out credentials with a usable access token.
type CredentialResolver interface {
	Resolve(ctx context.Context, id int64) (*channel.Credential, error)
	Invalidate(ctx context.Context, id int64) error
}

// Request is the variable part of a remote call.
type Request struct {
	Params map[string]string
	Query  url.Values
	Body   any
}

// Remote performs calls on behalf of a queue item. It picks the endpoint,
// attaches the item's credential and keeps the last exchange on the item.
type Remote struct {
	caller   infraChannel.Caller
	creds    CredentialResolver
	registry *channel.Registry
	logger   zerolog.Logger
}

func NewRemote(caller infraChannel.Caller, creds CredentialResolver, registry *channel.Registry, logger zerolog.Logger) *Remote {
	return &Remote{
		caller:   caller,
		creds:    creds,
		registry: registry,
		logger:   observability.Component(logger, "remote"),
	}
}

// Call sends action for item. A 401 drops the stored access token so the
// next attempt starts with a refresh.
func (r *Remote) Call(ctx context.Context, item *queue.Item, action channel.Action, req Request) (*infraChannel.Response, error) {
	endpoint, err := r.registry.ByAction(action)
	if err != nil {
		return nil, err
	}
	cred, err := r.creds.Resolve(ctx, item.CredentialID)
	if err != nil {
		return nil, err
	}

	resp, err := r.caller.Do(ctx, infraChannel.Call{
		Endpoint:      endpoint,
		Params:        req.Params,
		Query:         req.Query,
		Body:          req.Body,
		Credential:    cred,
		CorrelationID: fmt.Sprintf("%s-%d-%d", item.Kind, item.ID, item.RetryCount),
	})
	if err != nil {
		var ce *infraChannel.CallError
		if errors.As(err, &ce) {
			item.RecordExchange(endpoint.Method+" "+endpoint.Path, ce.Body, nil)
			if ce.Unauthorized() {
				if ierr := r.creds.Invalidate(ctx, cred.ID); ierr != nil {
					r.logger.Warn().Err(ierr).Int64("credential_id", cred.ID).Msg("failed to invalidate rejected token")
				}
			}
		}
		return nil, err
	}

	item.RecordExchange(resp.Request, truncate(string(resp.Body), maxStoredResponse), nil)
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
