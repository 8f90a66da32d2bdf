// Package surveyurl builds the ending and survey URLs a study opens when it
// ends, appending the study covariates as query arguments.
package surveyurl

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
)

// PacketVersion is the value of the "shield" query argument.
const PacketVersion = "3"

// Query argument names.
const (
	ArgShield        = "shield"
	ArgStudy         = "study"
	ArgVariation     = "variation"
	ArgUpdateChannel = "updateChannel"
	ArgFxVersion     = "fxVersion"
	ArgAddon         = "addon"
	ArgWho           = "who"
	ArgReason        = "reason"
	ArgFullReason    = "fullreason"
)

// QueryArgs are scalar query arguments. Setting a key replaces every existing
// value of that key in the base URL.
type QueryArgs map[string]string

// Covariates are the study facts every ending URL carries.
type Covariates struct {
	Study         string
	Variation     string
	UpdateChannel string
	HostVersion   string
	AddonVersion  string
	ClientID      string
}

// QueryArgs returns the base arguments, without reason/fullreason.
func (c Covariates) QueryArgs() QueryArgs {
	return QueryArgs{
		ArgShield:        PacketVersion,
		ArgStudy:         c.Study,
		ArgVariation:     c.Variation,
		ArgUpdateChannel: c.UpdateChannel,
		ArgFxVersion:     c.HostVersion,
		ArgAddon:         c.AddonVersion,
		ArgWho:           c.ClientID,
	}
}

// WithReason returns a copy of q extended with the ending reason (canonical
// bucket) and full reason (the requested ending name).
func (q QueryArgs) WithReason(reason, fullReason string) QueryArgs {
	out := maps.Clone(q)
	if out == nil {
		out = QueryArgs{}
	}
	out[ArgReason] = reason
	out[ArgFullReason] = fullReason
	return out
}

// FullURL merges args into the query of base; args win on collision.
//
// A key that appears several times in base ("?a=1&a=2") collapses to the
// single value from args. The re-encoded query is sorted by key.
func FullURL(base string, args QueryArgs) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}

	q := u.Query()
	for k, v := range args {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EndingURLs builds the URL list of an ending: every base URL augmented with
// args, followed by the exact URLs verbatim. A base URL that cannot be parsed
// is skipped and reported in the returned error; the other URLs are still built.
func EndingURLs(baseURLs, exactURLs []string, args QueryArgs) ([]string, error) {
	urls := make([]string, 0, len(baseURLs)+len(exactURLs))
	var errs []error

	for _, base := range baseURLs {
		full, err := FullURL(base, args)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		urls = append(urls, full)
	}
	urls = append(urls, exactURLs...)

	return urls, errors.Join(errs...)
}
