// cmd/brainctl/main.go
//
// brainctl is a read-only HTTP inspection server over a node's own
// federation state: registered Agent Cards, blackboard tasks, utility
// scores, pending nominations, and the evolution scheduler's queues.
// Grounded on internal/server/server.go's mux.NewRouter/subrouter idiom,
// restricted to GET-only observability endpoints.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/gorilla/mux"

	"github.com/clawos/brain/internal/agentcard"
	"github.com/clawos/brain/internal/federation"
	"github.com/clawos/brain/internal/scheduler"
	"github.com/clawos/brain/internal/scoring"
	"github.com/clawos/brain/internal/tasks"
)

func main() {
	root := flag.String("root", "./data", "path to the node's blackboard root directory")
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	logger := log.New(os.Stdout, "[brainctl] ", log.LstdFlags)

	registry, err := agentcard.LoadRegistry(filepath.Join(*root, "agents"))
	if err != nil {
		logger.Fatalf("load agent registry: %v", err)
	}

	taskDB, err := sql.Open("sqlite3", filepath.Join(*root, "tasks.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		logger.Fatalf("open task store: %v", err)
	}
	defer taskDB.Close()
	taskStore := tasks.NewStore(taskDB)
	if err := taskStore.Init(); err != nil {
		logger.Fatalf("init task store: %v", err)
	}

	feedback := scoring.NewFeedbackStore(filepath.Join(*root, "feedback"))
	scorer := scoring.NewScorer(filepath.Join(*root, "scores"), feedback)
	nominations := scoring.NewNominationManager(filepath.Join(*root, "nominations"), scorer)
	sweeper := federation.NewSweeper(filepath.Join(*root, "blackboard", "tasks"))
	queues := scheduler.NewQueues(filepath.Join(*root, "evolution"))

	s := &inspector{
		logger:      logger,
		registry:    registry,
		taskStore:   taskStore,
		scorer:      scorer,
		nominations: nominations,
		sweeper:     sweeper,
		queues:      queues,
	}

	r := mux.NewRouter()
	r.Use(securityHeaders)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/agents", s.handleAgents).Methods("GET")
	api.HandleFunc("/tasks", s.handleTasks).Methods("GET")
	api.HandleFunc("/tasks/stale", s.handleStaleTasks).Methods("GET")
	api.HandleFunc("/scores", s.handleScores).Methods("GET")
	api.HandleFunc("/nominations", s.handleNominations).Methods("GET")
	api.HandleFunc("/queues/evolution", s.handleEvolutionQueues).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Printf("listening on %s, root=%s", *addr, *root)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server: %v", err)
	}
}

// securityHeaders strips version-revealing headers the way the teacher's
// SecurityHeadersMiddleware does, without its wrapper machinery since this
// server never streams partial writes before completion.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "brainctl")
		w.Header().Del("X-Powered-By")
		next.ServeHTTP(w, r)
	})
}

type inspector struct {
	logger      *log.Logger
	registry    *agentcard.Registry
	taskStore   *tasks.Store
	scorer      *scoring.Scorer
	nominations *scoring.NominationManager
	sweeper     *federation.Sweeper
	queues      *scheduler.Queues
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *inspector) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *inspector) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.List())
}

// handleTasks lists tasks with the same limit/offset/status query
// parameters as the teacher's internal/handlers/tasks.go HandleList, since
// that is the closer analogue for this endpoint than a bare dump of the
// store: a federation node's task table only grows, and an unpaginated
// /tasks response would eventually return everything it has ever seen.
func (s *inspector) handleTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 100
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	offset := 0
	if o := query.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var (
		all []*tasks.Task
		err error
	)
	if status := query.Get("status"); status != "" {
		all, err = s.taskStore.GetByStatus(tasks.TaskStatus(status))
	} else {
		all, err = s.taskStore.GetAll()
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	total := len(all)
	page := all[min(offset, total):]
	if len(page) > limit {
		page = page[:limit]
	}

	writeJSON(w, map[string]interface{}{
		"tasks":  page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *inspector) handleStaleTasks(w http.ResponseWriter, r *http.Request) {
	reports, err := s.sweeper.Sweep(time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, reports)
}

func (s *inspector) handleScores(w http.ResponseWriter, r *http.Request) {
	scores, err := s.scorer.GetAllScores()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, scores)
}

func (s *inspector) handleNominations(w http.ResponseWriter, r *http.Request) {
	noms, err := s.nominations.GetAllNominations("")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, noms)
}

func (s *inspector) handleEvolutionQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queues.Stats()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, stats)
}
