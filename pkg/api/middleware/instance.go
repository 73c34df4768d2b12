package middleware

import "net/http"

// InstanceHeader names the response header carrying the manager instance id.
const InstanceHeader = "X-Dbundle-Instance"

// Instance stamps every response with the manager instance id so clients
// can tell when they are talking to a restarted process.
func Instance(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id != "" {
				w.Header().Set(InstanceHeader, id)
			}
			next.ServeHTTP(w, r)
		})
	}
}
