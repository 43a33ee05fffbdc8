package registry

import (
	"errors"

	"github.com/fortuna/squadron/internal/fetch"
	"github.com/fortuna/squadron/internal/scrape"
)

// isSkippable reports whether an error from the fetch/parse phase should
// skip the current entity and continue the run. Fetch and parse failures are
// transient from the registry's point of view; the next scheduled run is the
// retry mechanism. Anything else (store failures above all) aborts.
func isSkippable(err error) bool {
	var statusErr *fetch.StatusError
	var transportErr *fetch.TransportError
	var parseErr *scrape.ParseError
	return errors.As(err, &statusErr) ||
		errors.As(err, &transportErr) ||
		errors.As(err, &parseErr)
}
