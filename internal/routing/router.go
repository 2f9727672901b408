package routing

import (
	"log"
	"net/http"
	"runtime/debug"
)

// Router dispatches on exact path and method. Every handler runs behind a
// panic guard that logs the stack and answers with the route's own error
// rendering instead of dropping the connection.
type Router struct {
	classifier *Classifier
	byPath     map[string]map[string]boundRoute
}

type boundRoute struct {
	rc      RouteClass
	handler http.Handler
}

func NewRouter(classifier *Classifier) *Router {
	return &Router{
		classifier: classifier,
		byPath:     map[string]map[string]boundRoute{},
	}
}

func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	methods, ok := r.byPath[path]
	if !ok {
		methods = map[string]boundRoute{}
		r.byPath[path] = methods
	}
	methods[method] = boundRoute{rc: rc, handler: guarded(rc, h)}
}

func guarded(rc RouteClass, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("routing: panic serving %s %s: %v\n%s", req.Method, req.URL.Path, rec, debug.Stack())
				WriteError(w, req, rc, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		h.ServeHTTP(w, req)
	})
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.byPath[req.URL.Path]
	if !ok {
		WriteError(w, req, r.classifier.Classify(req.URL.Path), http.StatusNotFound, "not_found", "not found")
		return
	}
	bound, ok := methods[req.Method]
	if !ok {
		rc := registeredClass(methods, r.classifier.Classify(req.URL.Path))
		WriteError(w, req, rc, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	bound.handler.ServeHTTP(w, req)
}

// registeredClass renders a 405 the way the path's real handlers would.
func registeredClass(methods map[string]boundRoute, fallback RouteClass) RouteClass {
	for _, b := range methods {
		return b.rc
	}
	return fallback
}
