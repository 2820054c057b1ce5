package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modfin/henry/compare"
	"github.com/modfin/utskick/internal/quota"
	"github.com/modfin/utskick/internal/runner"
	"github.com/modfin/utskick/internal/store"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Interface string
	Port      int

	BatchSize int
}

// Server exposes the batch operations over HTTP. Every mutating endpoint is
// guarded by a single mutex, batch runs are strictly one at a time.
type Server struct {
	ctx    context.Context
	config Config
	log    *logrus.Logger
	srv    *http.Server

	runner *runner.Runner
	store  store.Store
	ledger *quota.Ledger

	mu sync.Mutex
}

func New(ctx context.Context, cfg Config, run *runner.Runner, st store.Store, ledger *quota.Ledger, lc *tools.Logger) *Server {
	return &Server{
		ctx:    ctx,
		config: cfg,
		log:    lc.New("web"),
		runner: run,
		store:  st,
		ledger: ledger,
	}
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Start() {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log}))
	mux.Use(middleware.Heartbeat("/ping"))

	mux.Post("/api/validate", validateRecords(s))
	mux.Post("/api/send", sendBatch(s))
	mux.Get("/api/stats", stats(s))

	s.srv = &http.Server{Addr: fmt.Sprintf("%s:%d", s.config.Interface, compare.Coalesce(s.config.Port, 3000)), Handler: mux}
	go func() {
		s.log.Infof("starting webserver on %s", s.srv.Addr)

		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Fatal("webserver died")
		}
	}()
}
