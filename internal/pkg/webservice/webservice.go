/*
webservice.go REST and websocket reporting surface over a dispatch system. Routine
summaries, the most recent result and device attribute values are served as JSON; run
reports are streamed to websocket clients as they are published.
*/

package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// Source is the system the service reports on.
type Source interface {
	msg.Publisher
	Summaries() ([]routine.Summary, error)
	Summary(name string) (routine.Summary, error)
	RecentSummary() (routine.Summary, bool)
	Values(model, attr string) ([]interface{}, []float64, error)
	Run(ctx context.Context, name string, opts *solver.Options) (routine.Report, error)
}

// Config is the web service configuration.
type Config struct {
	URL  string `json:"URL" yaml:"url"`
	Port string `json:"Port" yaml:"port"`
}

// Addr is the listen address.
func (c Config) Addr() string {
	if c.Port == "" {
		return c.URL + ":8080"
	}
	return c.URL + ":" + c.Port
}

// App serves one Source.
type App struct {
	Source   Source
	Config   Config
	upgrader websocket.Upgrader
}

// AttrValues is the body of a model attribute response.
type AttrValues struct {
	Model  string        `json:"Model"`
	Attr   string        `json:"Attr"`
	Idx    []interface{} `json:"Idx"`
	Values []float64     `json:"Values"`
}

type errorBody struct {
	Error string `json:"Error"`
}

// Router returns the service routes.
func (app *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.BaseHandler).Methods("GET")
	r.HandleFunc("/routines", app.RoutinesHandler).Methods("GET")
	r.HandleFunc("/routines/{name}", app.RoutineHandler).Methods("GET")
	r.HandleFunc("/routines/{name}/run", app.RunHandler).Methods("POST")
	r.HandleFunc("/recent", app.RecentHandler).Methods("GET")
	r.HandleFunc("/models/{model}/{attr}", app.ValuesHandler).Methods("GET")
	r.HandleFunc("/ws", app.StreamHandler)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("[Webservice] WARN malformed JSON:", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{err.Error()})
}

// BaseHandler answers liveness checks.
func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nil)
}

// RoutinesHandler lists every declared routine.
func (app *App) RoutinesHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := app.Source.Summaries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// RoutineHandler describes one routine.
func (app *App) RoutineHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	summary, err := app.Source.Summary(name)
	if errors.Is(err, routine.ErrUnknownRoutine) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RunHandler runs a routine. An optional JSON body carries solver options.
func (app *App) RunHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var opts *solver.Options
	if r.ContentLength > 0 {
		o := solver.DefaultOptions()
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts = &o
	}
	log.Printf("[Webservice] run request for <%s>\n", name)
	report, err := app.Source.Run(r.Context(), name, opts)
	switch {
	case errors.Is(err, routine.ErrUnknownRoutine):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// RecentHandler describes the routine that last wrote results.
func (app *App) RecentHandler(w http.ResponseWriter, r *http.Request) {
	summary, ok := app.Source.RecentSummary()
	if !ok {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ValuesHandler returns one attribute of a device model.
func (app *App) ValuesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idx, values, err := app.Source.Values(vars["model"], vars["attr"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, AttrValues{vars["model"], vars["attr"], idx, values})
}

// StreamHandler upgrades to a websocket and writes every published run report
// until the client goes away.
func (app *App) StreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] WARN upgrade:", err)
		return
	}
	defer conn.Close()

	pid := uuid.New()
	ch, err := app.Source.Subscribe(pid, msg.Result)
	if err != nil {
		log.Println("[Webservice] WARN subscribe:", err)
		return
	}
	defer app.Source.Unsubscribe(pid)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(m.Payload()); err != nil {
				log.Println("[Webservice] WARN stream write:", err)
				return
			}
		case <-closed:
			return
		}
	}
}

// ListenAndServe serves the router on the configured address.
func (app *App) ListenAndServe() error {
	log.Println("[Webservice] Starting Server on", app.Config.Addr())
	return http.ListenAndServe(app.Config.Addr(), app.Router())
}
