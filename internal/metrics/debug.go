package metrics

import (
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

// ErrInsecureBind is returned by Serve when profiling is requested on a
// non-loopback address without a token.
var ErrInsecureBind = errors.New("metrics: pprof on a non-loopback address requires a token")

// DebugOptions mount /healthz and the runtime profiles next to /metrics.
type DebugOptions struct {
	Pprof bool
	// Token, when set, is required as "Authorization: Bearer <token>" or
	// ?token= on every debug endpoint.
	Token string
}

func (c *Collector) mux(opts DebugOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withToken(opts.Token, h) }
	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func checkBind(addr string, opts DebugOptions) error {
	if opts.Pprof && strings.TrimSpace(opts.Token) == "" && !isLoopbackAddr(addr) {
		return ErrInsecureBind
	}
	return nil
}

func withToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	if host == "" {
		// ":9464" binds every interface.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
