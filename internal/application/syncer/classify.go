package syncer

import (
	"context"
	"errors"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/channel"
)

// Outcome is a failed attempt translated into queue terms.
type Outcome struct {
	Reason     string
	Message    string
	HTTPCode   *int
	RetryAfter time.Duration
	Curve      Curve
	// Local is set when the failure is ours rather than the remote's.
	Local bool
	// Body is the remote response body, when there was one.
	Body string
}

var remoteReasons = map[channel.Class]struct {
	reason string
	curve  Curve
}{
	channel.ClassTimeout:         {queue.ReasonTimeout, CurveExponential},
	channel.ClassTransport:       {queue.ReasonTransport, CurveExponential},
	channel.ClassServer:          {queue.ReasonHTTP5xx, CurveExponential},
	channel.ClassCircuitOpen:     {queue.ReasonCircuitOpen, CurveExponential},
	channel.ClassRateLimited:     {queue.ReasonRateLimited, CurveRetryAfter},
	channel.ClassRejected:        {queue.ReasonRemoteRejected, CurveLinear},
	channel.ClassValidation:      {queue.ReasonValidation, CurveLinear},
	channel.ClassInvalidResponse: {queue.ReasonInvalidResponse, CurveLinear},
}

var configErrors = []error{
	domainErrors.ErrMappingNotFound,
	domainErrors.ErrUnknownEndpoint,
	domainErrors.ErrLinkNotFound,
	domainErrors.ErrEventNotFound,
	domainErrors.ErrInvalidMirror,
	domainErrors.ErrRemoteIDRequired,
	domainErrors.ErrValidationFailed,
	domainErrors.ErrInvalidInput,
}

// Classify maps any error returned while processing an item to an Outcome.
func Classify(err error) Outcome {
	o := Outcome{Message: err.Error()}

	var ce *channel.CallError
	if errors.As(err, &ce) {
		r, ok := remoteReasons[ce.Class]
		if !ok {
			r = remoteReasons[channel.ClassRejected]
		}
		o.Reason, o.Curve = r.reason, r.curve
		o.RetryAfter = ce.RetryAfter
		o.Body = ce.Body
		if ce.HTTPCode != 0 {
			code := ce.HTTPCode
			o.HTTPCode = &code
		}
		return o
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		o.Reason, o.Curve = queue.ReasonTimeout, CurveExponential
		return o
	}
	if errors.Is(err, domainErrors.ErrDuplicateRemote) {
		// The remote handed back an id that another link already owns.
		code := http.StatusConflict
		o.Reason, o.Curve, o.HTTPCode = queue.ReasonRemoteRejected, CurveLinear, &code
		return o
	}

	o.Local, o.Curve = true, CurveFixed
	if errors.Is(err, domainErrors.ErrCredentialUnresolvable) {
		o.Reason = queue.ReasonCredentialUnresolvable
		return o
	}
	var ve *domainErrors.ValidationError
	if errors.As(err, &ve) {
		o.Reason = queue.ReasonConfig
		return o
	}
	for _, target := range configErrors {
		if errors.Is(err, target) {
			o.Reason = queue.ReasonConfig
			return o
		}
	}
	o.Reason = queue.ReasonInternal
	return o
}
