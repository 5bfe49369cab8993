package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/esnunes/repeater/internal/repeater"
)

//go:embed templates
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

const shutdownTimeout = 5 * time.Second

type Server struct {
	service     *repeater.Service
	defaultUser int64
	logger      *slog.Logger
	pages       map[string]*template.Template
	httpSrv     *http.Server
	ln          net.Listener
	addr        string
}

var funcMap = template.FuncMap{
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return humanize.Time(t)
	},
	"sortKey":    repeater.SortKey,
	"publishKey": repeater.PublishKey,
	"deleteKey":  repeater.DeleteKey,
	"valueKey":   repeater.ValueKey,
}

// New builds a server for service. Requests without a user header act as
// defaultUser.
func New(service *repeater.Service, defaultUser int64, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		service:     service,
		defaultUser: defaultUser,
		logger:      logger,
		pages:       pages,
	}

	mux := http.NewServeMux()

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("getting static subfs: %w", err)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("POST /records", s.handleCreate)
	mux.HandleFunc("GET /records/{id}", s.handleEdit)
	mux.HandleFunc("POST /records/{id}", s.handleSave)
	mux.HandleFunc("GET /repeater/add", s.handleAdd)
	mux.HandleFunc("POST /repeater/add", s.handleAdd)

	s.httpSrv = &http.Server{
		Handler:           s.withRequest(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// partials are parsed into every page so pages can embed them.
var partials = []string{
	"item_fragment.html",
}

// parsePages builds a template for each page by combining layout.html with the page template.
func parsePages() (map[string]*template.Template, error) {
	tmplFS, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("getting templates subfs: %w", err)
	}

	layoutBytes, err := fs.ReadFile(tmplFS, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}

	pageNames := []string{
		"dashboard.html",
		"edit.html",
		"item_fragment.html",
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcMap).Parse(string(layoutBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing layout for %s: %w", name, err)
		}

		for _, file := range append([]string{name}, partials...) {
			if tmpl.Lookup(file) != nil {
				continue
			}
			b, err := fs.ReadFile(tmplFS, file)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", file, err)
			}
			if _, err := tmpl.New(file).Parse(string(b)); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", file, err)
			}
		}

		pages[name] = tmpl
	}
	return pages, nil
}

// Listen binds the server to addr. An empty addr picks a random local port.
// Call Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve starts handling HTTP requests. Blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpSrv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})

	s.logger.Info("repeater running", "url", "http://"+s.addr)
	err := g.Wait()
	s.logger.Info("repeater stopped")
	return err
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log(r).Error("template not found", "template", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		s.log(r).Error("render error", "template", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// fragment executes the fragment template name into memory so headers can
// still be set once rendering succeeded.
func (s *Server) fragment(name string, data any) ([]byte, error) {
	tmpl, ok := s.pages[name]
	if !ok {
		return nil, fmt.Errorf("fragment template not found: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
