package middleware

import (
	"net/http"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
)

// RequestLogger emits one structured line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		logger.Infof("%s %s -> %d (%dms)",
			r.Method, r.URL.Path, ww.status, time.Since(start).Milliseconds())
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
