package topic

import "regexp"

// Request correlation fields. They are routing metadata carried in the
// topic path and never passed to request handlers.
const (
	FieldCommand   = "command"
	FieldClientID  = "clientid"
	FieldRequestID = "requestid"
)

const (
	requestSuffix = "ctl/{command}/request/{clientid}/{requestid}"
	replySuffix   = "ctl/{command}/reply/{clientid}/{requestid}"
)

var requestShape = regexp.MustCompile(`^(.*)/(request|reply)/([^/]+)/([^/]+)$`)

// RequestTopic returns base/ctl/{command}/request/{clientid}/{requestid}
// with command and the known fields bound.
func RequestTopic(base, command string, known Fields) (string, error) {
	return correlated(base, requestSuffix, command, known)
}

// ReplyTopic returns base/ctl/{command}/reply/{clientid}/{requestid} with
// command and the known fields bound.
func ReplyTopic(base, command string, known Fields) (string, error) {
	return correlated(base, replySuffix, command, known)
}

func correlated(base, suffix, command string, known Fields) (string, error) {
	values := Fields{FieldCommand: command}
	for k, v := range known {
		values[k] = v
	}
	return LazyFormat(Join(base, suffix), values)
}

// ReplyFromRequest swaps the request level for the reply level, keeping
// client and request ids. Topics of another shape are returned unchanged.
func ReplyFromRequest(request string) string {
	return requestShape.ReplaceAllString(request, "${1}/reply/${3}/${4}")
}

// RequestFromReply is the inverse of ReplyFromRequest.
func RequestFromReply(reply string) string {
	return requestShape.ReplaceAllString(reply, "${1}/request/${3}/${4}")
}

// StripRequestFields returns a copy of values without the correlation
// fields.
func StripRequestFields(values Fields) Fields {
	out := make(Fields, len(values))
	for k, v := range values {
		if k == FieldClientID || k == FieldRequestID {
			continue
		}
		out[k] = v
	}
	return out
}
