package middleware

import (
	"net/http"
	"strconv"

	"github.com/meridianerp/meridian/pkg/contextkeys"
	"github.com/meridianerp/meridian/pkg/httputil"
)

// OrgHintHeader carries the caller's target organization on requests where
// the URL does not name one, such as resource creation.
const OrgHintHeader = "X-Organization-ID"

// OrgHint parses the organization hint header, when present, into the
// request context. Requests without the header pass through unchanged.
func OrgHint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OrgHintHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		orgID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, OrgHintHeader+" must be an integer")
			return
		}

		ctx := contextkeys.WithOrgHint(r.Context(), &orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
