/*
natshandler.go Publishes routine run reports to a NATS server. Each report is encoded as
JSON on the subject <Subject>.<routine name>.
*/

package natshandler

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	conf "github.com/ohowland/cgc_dispatch/internal/pkg/config"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"

	nats "github.com/nats-io/nats.go"
)

// ErrPayload is returned for messages that do not carry a run report.
var ErrPayload = errors.New("natshandler: payload is not a routine report")

// Handler forwards run reports to NATS.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server  string `json:"Server" yaml:"server"`
	Subject string `json:"Subject" yaml:"subject"`
}

// PID of the handler process
func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

// New reads the handler config and subscribes to run reports on system.
func New(configPath string, system msg.Publisher) (Handler, error) {
	cfg := config{}
	if err := conf.Load(configPath, &cfg); err != nil {
		return Handler{}, err
	}
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "dispatch"
	}

	pid, _ := uuid.NewUUID()
	inbox := make(chan msg.Msg, 50)

	chResult, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chResult, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

// Stop ends Process.
func (h *Handler) Stop() {
	h.stop <- true
}

// encodeReport returns the subject and JSON body for a run report message.
func encodeReport(prefix string, m msg.Msg) (string, []byte, error) {
	report, ok := m.Payload().(routine.Report)
	if !ok {
		return "", nil, ErrPayload
	}
	data, err := json.Marshal(report)
	if err != nil {
		return "", nil, err
	}
	subject := strings.TrimSuffix(prefix, ".") + "." + report.Routine
	return subject, data, nil
}

// Process connects to the server and publishes reports until Stop.
func (h Handler) Process() error {
	log.Println("[NATS client] Process Started")
	nc, err := nats.Connect(h.config.Server, nats.Name("cgc_dispatch "+h.pid.String()))
	if err != nil {
		return err
	}
	defer nc.Close()

loop:
	for {
		select {
		case m := <-h.inbox:
			subject, data, err := encodeReport(h.config.Subject, m)
			if err != nil {
				log.Printf("[NATS client] WARN %v\n", err)
				continue
			}
			if err := nc.Publish(subject, data); err != nil {
				log.Printf("[NATS client] WARN unable to publish to nats server: %v\n", err)
			}

		case <-h.stop:
			if err := nc.Flush(); err != nil {
				log.Printf("[NATS client] WARN flush: %v\n", err)
			}
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
	return nil
}
