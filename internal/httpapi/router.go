package httpapi

import "net/http"

// route describes a single endpoint with an optional method guard, the same
// shape the teacher's applications/httpapi package registers its endpoints
// with.
type route struct {
	pattern string
	method  string
	handler http.HandlerFunc
}

// mountRoutes attaches every route to mux, wrapping handlers with method
// enforcement when a method is specified.
func mountRoutes(mux *http.ServeMux, routes ...route) {
	for _, rt := range routes {
		if rt.pattern == "" || rt.handler == nil {
			continue
		}
		handler := rt.handler
		if rt.method != "" {
			handler = withMethod(rt.method, handler)
		}
		mux.HandleFunc(rt.pattern, handler)
	}
}

// withMethod enforces method on fn, replying 405 otherwise.
func withMethod(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}
