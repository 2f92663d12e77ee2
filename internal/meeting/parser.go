package meeting

import (
	"fmt"
	"net/url"
	"strings"
)

// JoinDescriptor is the parsed representation of a meeting reference:
// the provider meeting identifier plus an optional passcode.
type JoinDescriptor struct {
	MeetingID string `json:"meeting_id"`
	Passcode  string `json:"passcode,omitempty"`
}

// ParseError reports a meeting reference that could not be parsed.
// It is the parser's only failure mode; no network access ever occurs here.
type ParseError struct {
	Reference string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("meeting: malformed reference %q: %s", e.Reference, e.Reason)
}

// Parse extracts a JoinDescriptor from a URI-like meeting reference.
//
// The provider meeting identifier is the final non-empty path segment.
// A "p" (or "passcode") query parameter supplies the optional passcode.
func Parse(reference string) (JoinDescriptor, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return JoinDescriptor{}, &ParseError{Reference: reference, Reason: "empty reference"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return JoinDescriptor{}, &ParseError{Reference: reference, Reason: err.Error()}
	}

	id := lastPathSegment(u.EscapedPath())
	if id == "" {
		// Bare references like "2908149825997" parse as a path-only URL.
		id = lastPathSegment(u.Opaque)
	}
	if id == "" {
		return JoinDescriptor{}, &ParseError{Reference: reference, Reason: "no usable path segment"}
	}

	d := JoinDescriptor{MeetingID: id}
	q := u.Query()
	if v := q.Get("p"); v != "" {
		d.Passcode = v
	} else if v := q.Get("passcode"); v != "" {
		d.Passcode = v
	}
	return d, nil
}

func lastPathSegment(path string) string {
	for path != "" {
		var seg string
		path, seg = splitLast(path)
		if seg != "" {
			if unescaped, err := url.PathUnescape(seg); err == nil {
				return unescaped
			}
			return seg
		}
	}
	return ""
}

func splitLast(path string) (rest, seg string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
