// Package classify turns failed call outcomes into actionable verdicts.
// A verdict is plain data (kind, message, retryability, backoff) so the
// retry and queueing logic downstream is a data decision, not a
// throw/catch chain.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grafana/holdfast/notify"
)

// Kind is the coarse error category a failure maps to.
type Kind string

const (
	// KindNetwork means no response reached us (DNS, connection, timeout).
	KindNetwork Kind = "network"
	// KindAuth is a 401. It is handled by the single-flight token refresh,
	// not the generic retry path.
	KindAuth Kind = "auth"
	// KindPermission is a 403. Terminal.
	KindPermission Kind = "permission"
	// KindValidation is a 4xx other than 401/403/429. Terminal.
	KindValidation Kind = "validation"
	// KindServer is a 429 or 5xx. Retryable.
	KindServer Kind = "server"
	// KindUnknown is anything else. Terminal.
	KindUnknown Kind = "unknown"
)

// Backoff bounds shared by both formulas.
const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// Outcome is the classifier's verdict on a single failed attempt.
type Outcome struct {
	Kind      Kind
	Message   string
	Retryable bool
	// Backoff is the delay to apply before the next attempt. Zero when the
	// failure is terminal.
	Backoff time.Duration
}

// Classifier maps failures to outcomes and, unless silenced, emits one
// user-facing notification per classified failure. A nil hub disables
// notifications entirely.
type Classifier struct {
	hub *notify.Hub
}

// New creates a classifier that publishes notifications to hub.
// Pass nil to classify without notifying.
func New(hub *notify.Hub) *Classifier {
	return &Classifier{hub: hub}
}

// Quiet returns a classifier with the same rules but no notification side
// effect, for callers that opted out.
func (c *Classifier) Quiet() *Classifier {
	return &Classifier{}
}

// FromTransport classifies a failure where no response reached us.
// attempt is 1-indexed and only affects the backoff delay.
func (c *Classifier) FromTransport(err error, attempt int) Outcome {
	msg := "Unable to reach the server. Check your connection."
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "The request timed out. It will be retried."
	}

	out := Outcome{
		Kind:      KindNetwork,
		Message:   msg,
		Retryable: true,
		Backoff:   networkBackoff(attempt),
	}
	c.Publish(out)
	return out
}

// FromStatus classifies a non-2xx response. serverMessage is the
// structured body's message when the server provided one; it takes
// precedence over the canned text. attempt is 1-indexed and only affects
// the backoff delay.
func (c *Classifier) FromStatus(status int, serverMessage string, attempt int) Outcome {
	var out Outcome

	switch {
	case status == 401:
		out = Outcome{Kind: KindAuth, Message: "Your session has expired. Please sign in again."}
	case status == 403:
		out = Outcome{Kind: KindPermission, Message: "You do not have permission to perform this action."}
	case status == 404:
		out = Outcome{Kind: KindValidation, Message: "The requested resource was not found."}
	case status == 429:
		out = Outcome{
			Kind:      KindServer,
			Message:   "Too many requests. Slowing down and retrying.",
			Retryable: true,
			Backoff:   serverBackoff(attempt, true),
		}
	case status >= 500 && status <= 599:
		out = Outcome{
			Kind:      KindServer,
			Message:   fmt.Sprintf("The server had a problem (status %d). Retrying.", status),
			Retryable: true,
			Backoff:   serverBackoff(attempt, false),
		}
	case status >= 400 && status < 500:
		out = Outcome{Kind: KindValidation, Message: "The request was rejected by the server."}
	default:
		out = Outcome{Kind: KindUnknown, Message: fmt.Sprintf("Unexpected response (status %d).", status)}
	}

	if serverMessage != "" {
		out.Message = serverMessage
	}

	c.Publish(out)
	return out
}

// networkBackoff doubles per attempt: min(base * 2^(attempt-1), cap).
func networkBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}

	return d
}

// serverBackoff grows linearly: min(base * attempt, cap). Rate-limited
// responses start from a doubled base so we back off harder on 429.
func serverBackoff(attempt int, rateLimited bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := backoffBase
	if rateLimited {
		base *= 2
	}

	d := base * time.Duration(attempt)
	if d > backoffCap {
		return backoffCap
	}

	return d
}

// title maps a kind to the notification headline shown to the user.
func title(kind Kind) string {
	switch kind {
	case KindNetwork:
		return "Connection Problem"
	case KindAuth:
		return "Session Expired"
	case KindPermission:
		return "Access Denied"
	case KindValidation:
		return "Request Rejected"
	case KindServer:
		return "Server Problem"
	default:
		return "Unexpected Error"
	}
}

// Publish emits the user-facing notification for an already-classified
// outcome. Callers that classified quietly (retries) use this when the
// failure turns out to be terminal, so the notification carries the same
// kind-derived title and severity as the direct path.
func (c *Classifier) Publish(out Outcome) {
	if c.hub == nil {
		return
	}

	switch out.Kind {
	case KindNetwork, KindServer:
		c.hub.Warning(title(out.Kind), out.Message)
	default:
		c.hub.Error(title(out.Kind), out.Message)
	}
}
