package delivery

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// permanentCodes are Discord JSON error codes meaning the target will not
// become reachable by retrying.
var permanentCodes = map[int]bool{
	discordgo.ErrCodeCannotSendMessagesToThisUser: true,
	discordgo.ErrCodeUnknownChannel:               true,
	discordgo.ErrCodeUnknownUser:                  true,
	discordgo.ErrCodeMissingAccess:                true,
	discordgo.ErrCodeMissingPermissions:           true,
}

// Classify maps an error from the Discord API to an Outcome. Unknown errors
// are transient: retrying costs a possible duplicate, giving up loses the
// notification.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Status: Delivered}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Outcome{Status: Transient, Reason: "timeout", Err: err}
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return Outcome{Status: Transient, Reason: "rate limited", Err: err}
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && permanentCodes[restErr.Message.Code] {
			return Outcome{Status: Permanent, Reason: restErr.Message.Message, Err: err}
		}
		if restErr.Response != nil {
			code := restErr.Response.StatusCode
			switch {
			case code == http.StatusTooManyRequests:
				return Outcome{Status: Transient, Reason: "rate limited", Err: err}
			case code >= 500:
				return Outcome{Status: Transient, Reason: http.StatusText(code), Err: err}
			case code == http.StatusForbidden || code == http.StatusNotFound:
				return Outcome{Status: Permanent, Reason: http.StatusText(code), Err: err}
			}
		}
		return Outcome{Status: Transient, Reason: "discord error", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Outcome{Status: Transient, Reason: "network error", Err: err}
	}

	return Outcome{Status: Transient, Reason: err.Error(), Err: err}
}
