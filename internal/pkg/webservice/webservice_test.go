package webservice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
	"github.com/ohowland/cgc_dispatch/internal/pkg/system"
	"gotest.tools/v3/assert"
)

func newApp(t *testing.T) *App {
	t.Helper()
	sys := system.NewWithConfig(system.Config{Name: "three_bus", Routines: []string{"DCPF", "DCOPF"}}, nil)
	assert.NilError(t, sys.LoadCase("../system/case_test.json"))
	assert.NilError(t, sys.Setup())
	return &App{Source: sys}
}

func serve(app *App, method, target string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "http://example.com"+target, bytes.NewBuffer(body))
	app.Router().ServeHTTP(w, r)
	return w
}

func TestBase(t *testing.T) {
	w := serve(newApp(t), "GET", "/", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json; charset=UTF-8")
}

func TestRoutines(t *testing.T) {
	w := serve(newApp(t), "GET", "/routines", nil)
	assert.Equal(t, w.Code, http.StatusOK)

	summaries := []routine.Summary{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	assert.Equal(t, len(summaries), 2)
	assert.Equal(t, summaries[0].Name, "DCPF")
	assert.Equal(t, summaries[0].State, "Uninitialized")
	assert.Equal(t, summaries[1].Algorithm, "MeritOrder")
}

func TestRoutineNotFound(t *testing.T) {
	app := newApp(t)
	w := serve(app, "GET", "/routines/UC", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)

	w = serve(app, "POST", "/routines/UC/run", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRunAndRecent(t *testing.T) {
	app := newApp(t)
	w := serve(app, "GET", "/recent", nil)
	assert.Equal(t, w.Code, http.StatusNoContent)

	w = serve(app, "POST", "/routines/DCOPF/run", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	report := routine.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, report.Routine, "DCOPF")
	assert.Equal(t, report.ExitCode, 0)

	w = serve(app, "GET", "/recent", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	summary := routine.Summary{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, summary.Name, "DCOPF")
	assert.Equal(t, summary.State, "Solved")

	w = serve(app, "GET", "/routines/DCOPF", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Assert(t, summary.Objective > 1107 && summary.Objective < 1109)
}

func TestRunWithOptions(t *testing.T) {
	app := newApp(t)
	w := serve(app, "POST", "/routines/DCPF/run", []byte(`{"Algorithm": "acnewton", "MaxIter": 20}`))
	assert.Equal(t, w.Code, http.StatusOK)

	w = serve(app, "POST", "/routines/DCPF/run", []byte(`{"Algorithm": "simplex"}`))
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestValues(t *testing.T) {
	app := newApp(t)
	w := serve(app, "GET", "/models/PV/pmax", nil)
	assert.Equal(t, w.Code, http.StatusOK)

	body := AttrValues{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, body.Model, "PV")
	assert.DeepEqual(t, body.Values, []float64{0.5})
	assert.Equal(t, body.Idx[0], 11.0)

	w = serve(app, "GET", "/models/Hydro/p", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
	w = serve(app, "GET", "/models/PV/flow", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestStream(t *testing.T) {
	app := newApp(t)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	assert.NilError(t, err)
	defer conn.Close()

	// the subscription is made after the upgrade, so keep running until a report arrives
	done := make(chan struct{})
	defer close(done)
	go func() {
		for i := 0; i < 40; i++ {
			select {
			case <-done:
				return
			case <-time.After(50 * time.Millisecond):
			}
			resp, err := http.Post(srv.URL+"/routines/DCPF/run", "application/json", nil)
			if err == nil {
				resp.Body.Close()
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	report := routine.Report{}
	assert.NilError(t, conn.ReadJSON(&report))
	assert.Equal(t, report.Routine, "DCPF")
	assert.Equal(t, report.ExitCode, 0)
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, Config{URL: "localhost", Port: "9000"}.Addr(), "localhost:9000")
	assert.Equal(t, Config{}.Addr(), ":8080")
}
