package policy

import "net/http"

// Interceptor inspects a request before the route handler runs. It returns
// the (possibly enriched) request to continue, or an error to stop the chain.
type Interceptor func(r *http.Request) (*http.Request, error)

// DenyFunc writes the terminal response for a stopped chain.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// Chain runs interceptors in order ahead of next. The first error ends the
// request through onDeny; nothing after it runs.
func Chain(onDeny DenyFunc, interceptors ...Interceptor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, ic := range interceptors {
				out, err := ic(r)
				if err != nil {
					onDeny(w, r, err)
					return
				}
				if out != nil {
					r = out
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
