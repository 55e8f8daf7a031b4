// Package inspector serves a read-only HTTP view of a container tree.
package inspector

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/km-arc/go-registry/framework/container"
	"github.com/km-arc/go-registry/framework/storage"
	gohttp "github.com/km-arc/go-registry/http"
	"github.com/km-arc/go-registry/routing"
)

// Inspector exposes root and its descendants.
type Inspector struct {
	root     *container.Container
	log      logr.Logger
	gatherer prometheus.Gatherer
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the request logger.
func WithLogger(logger logr.Logger) Option {
	return func(i *Inspector) { i.log = logger }
}

// WithMetrics serves gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(i *Inspector) { i.gatherer = gatherer }
}

// New returns an inspector over root.
func New(root *container.Container, opts ...Option) *Inspector {
	i := &Inspector{root: root, log: logr.Discard()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Router builds the inspector routes:
//
//	GET /healthz
//	GET /containers
//	GET /containers/{id}/registrations
//	GET /containers/{id}/lookup?type=&name=[&resolve]
//	GET /metrics
func (i *Inspector) Router() *routing.Router {
	r := routing.New(i.log)
	r.Get("/healthz", i.health)
	r.Prefix("/containers", func(c *routing.Router) {
		c.Get("/", i.containers)
		c.Get("/{id}/registrations", i.registrations)
		c.Get("/{id}/lookup", i.lookup)
	})
	if i.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(i.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (i *Inspector) health(w http.ResponseWriter, _ *http.Request) {
	gohttp.NewResponse(w).Success("ok")
}

func (i *Inspector) containers(w http.ResponseWriter, r *http.Request) {
	var out []ContainerInfo
	i.root.Walk(func(c *container.Container) {
		out = append(out, Describe(c))
	})
	gohttp.NewResponse(w).Negotiate(gohttp.NewRequest(r), http.StatusOK, out)
}

func (i *Inspector) registrations(w http.ResponseWriter, r *http.Request) {
	req, res := gohttp.NewRequest(r), gohttp.NewResponse(w)
	c, ok := i.find(req, res)
	if !ok {
		return
	}
	res.Negotiate(req, http.StatusOK, Registrations(c))
}

// LookupResult answers a lookup request. Instance is the dynamic type of the
// value built when the request carries ?resolve.
type LookupResult struct {
	Type       string `json:"type" yaml:"type"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Registered bool   `json:"registered" yaml:"registered"`
	Lifetime   string `json:"lifetime,omitempty" yaml:"lifetime,omitempty"`
	Instance   string `json:"instance,omitempty" yaml:"instance,omitempty"`
}

func (i *Inspector) lookup(w http.ResponseWriter, r *http.Request) {
	req, res := gohttp.NewRequest(r), gohttp.NewResponse(w)
	c, ok := i.find(req, res)
	if !ok {
		return
	}
	result := LookupResult{Type: req.Query("type"), Name: req.Query("name")}
	if result.Type == "" {
		res.Error(http.StatusBadRequest, "query parameter type is required")
		return
	}

	typ, found := typeNamed(c, result.Type)
	if found && c.Bound(typ, result.Name) {
		m, _ := c.Scope().LookupNamed(typ, result.Name)
		result.Registered = true
		result.Lifetime = container.Lifetime(m)
	}

	if result.Registered && req.Has("resolve") {
		v, err := c.Make(typ, result.Name)
		if err != nil {
			i.log.Error(err, "Lookup failed to resolve", "container", c.ID().String(), "type", result.Type,
				"name", result.Name, "requestID", middleware.GetReqID(req.Raw().Context()))
			res.ServerError(err.Error())
			return
		}
		result.Instance = fmt.Sprintf("%T", v)
	}
	res.Negotiate(req, http.StatusOK, result)
}

// typeNamed finds the key visible from c whose printed name is name.
func typeNamed(c *container.Container, name string) (storage.TypeKey, bool) {
	for typ := range c.Scope().Types() {
		if typ.String() == name {
			return typ, true
		}
	}
	return storage.TypeKey{}, false
}

func (i *Inspector) find(req *gohttp.Request, res *gohttp.Response) (*container.Container, bool) {
	id, err := uuid.Parse(req.RouteParam("id"))
	if err != nil {
		res.Error(http.StatusBadRequest, "invalid container id")
		return nil, false
	}
	c, ok := i.root.Find(id)
	if !ok {
		res.NotFound("Container not found.")
		return nil, false
	}
	return c, true
}
