package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
)

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

// protectPprof gates the profiler behind basic auth. Without credentials the
// endpoints are only reachable outside production.
func protectPprof(handler http.Handler, env string) http.Handler {
	user := strings.TrimSpace(os.Getenv("SECURE_PPROF_BASIC_AUTH_USER"))
	pass := strings.TrimSpace(os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS"))
	if user == "" {
		if env == "production" {
			return http.NotFoundHandler()
		}
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
