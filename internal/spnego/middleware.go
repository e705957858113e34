// Package spnego wraps gokrb5's SPNEGO/GSSAPI server support into the
// authentication middleware usermgrd's HTTP surface runs behind: every
// request must carry a "Negotiate <token>" Authorization header backed
// by a valid Kerberos service ticket, and the authenticated principal
// is threaded through to the handler via the request context.
package spnego

import (
	"context"
	"net/http"

	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"go.uber.org/zap"
)

type contextKey int

const principalKey contextKey = iota

// Principal returns the Kerberos principal authenticated for the
// request, or "" if none (the middleware guarantees one is present
// for any handler it lets through).
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey).(string)
	return p
}

// WithPrincipal returns a context carrying principal as the
// authenticated Kerberos identity, as Middleware would set it after a
// successful negotiation. Exported for handlers' tests, which need to
// exercise authorization logic without driving a real GSSAPI exchange.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// Middleware builds an http.Handler wrapper that requires a valid
// SPNEGO negotiation against the service keytab before calling next.
// Failed or incomplete negotiations get a 401 with a WWW-Authenticate:
// Negotiate challenge, as gokrb5's service-side implementation does by
// default for this exchange.
func Middleware(kt *keytab.Keytab, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	settings := []func(*service.Settings){
		service.Logger(zap.NewStdLog(log)),
	}

	return func(next http.Handler) http.Handler {
		authenticated := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := r.Context().Value(spnego.CTXKeyCredentials).(*credentials.Credentials)
			if !ok || creds == nil {
				http.Error(w, `{"status":"unauthorized"}`, http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, creds.UserName())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
		return spnego.SPNEGOKRB5Authenticate(authenticated, kt, settings...)
	}
}
