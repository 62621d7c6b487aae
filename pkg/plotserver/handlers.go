package plotserver

import (
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-go-golems/plotview/pkg/plot"
)

const notFoundMessage = "Server address not found"

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/data/{id:[0-9]+}", s.handleData)
	r.Get("/plots/{id:[0-9]+}/index.html", s.handlePage)
	for name, withPort := range scripts {
		r.Get("/"+name, s.handleScript(name, withPort))
	}
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.metrics.notFound.WithLabelValues("route").Inc()
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(notFoundMessage))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(notFoundMessage))
	})

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			s.relay.ServeHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	})
}

// handleData serves the bundles of a page and marks it opened. The first
// fetch of the last unopened page shuts the server down.
func (s *Server) handleData(w http.ResponseWriter, req *http.Request) {
	idParam := chi.URLParam(req, "id")
	_, span := s.tracer.Start(req.Context(), "plotserver.handleData", trace.WithAttributes(attribute.String("page.id", idParam)))
	defer span.End()

	id, err := strconv.Atoi(idParam)
	reg := s.registry()
	if err != nil || reg == nil {
		s.notFound(w, &NotFoundError{Kind: "page", Name: idParam, Err: err})
		return
	}
	page, ok := reg.MarkOpened(id)
	if !ok {
		s.notFound(w, &NotFoundError{Kind: "page", Name: idParam})
		return
	}
	s.metrics.pagesOpened.Inc()

	body, err := plot.Marshal(plot.Bundles(page.Entries))
	if err != nil {
		span.RecordError(err)
		s.log.Error().Err(err).Int("page_id", id).Msg("marshal page data")
		http.Error(w, "failed to serialize plot data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := w.Write(body); err != nil {
		s.log.Warn().Err(err).Int("page_id", id).Msg("data write failed")
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.log.Debug().Int("page_id", id).Int("bytes", len(body)).Msg("served page data")

	if page.HasLive() {
		s.startGrace()
	}
	s.maybeTeardown("page data fetched")
}

// notFound answers a missing page with an empty 404.
func (s *Server) notFound(w http.ResponseWriter, err *NotFoundError) {
	s.metrics.notFound.WithLabelValues(err.Kind).Inc()
	s.log.Debug().Err(err).Msg("not found")
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handlePage(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	s.serveAsset(w, indexAsset, "text/html; charset=utf-8", pageIDPlaceholder, id)
}

func (s *Server) handleScript(name string, withPort bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if withPort {
			s.serveAsset(w, name, "text/javascript", portPlaceholder, strconv.Itoa(s.Port()))
			return
		}
		s.serveAsset(w, name, "text/javascript", "", "")
	}
}

// serveAsset reads a static file, replaces placeholder with value and writes
// it. Missing files are answered with a 404 carrying the error text.
func (s *Server) serveAsset(w http.ResponseWriter, name, contentType, placeholder, value string) {
	b, err := fs.ReadFile(s.assets, name)
	if err != nil {
		nf := &NotFoundError{Kind: "asset", Name: name, Err: err}
		s.metrics.notFound.WithLabelValues(nf.Kind).Inc()
		s.log.Warn().Err(nf).Msg("asset missing")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(nf.Error()))
		return
	}
	content := string(b)
	if placeholder != "" {
		content = strings.ReplaceAll(content, placeholder, value)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}
