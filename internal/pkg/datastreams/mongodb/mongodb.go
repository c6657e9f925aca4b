/*
mongodb.go Stores routine run reports in MongoDB. Each routine keeps one upserted report
document; a snapshot of bus and generator results is appended per run.
*/

package mongodb

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	conf "github.com/ohowland/cgc_dispatch/internal/pkg/config"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrPayload is returned for messages that do not carry a run report.
var ErrPayload = errors.New("mongodb: payload is not a routine report")

// Source publishes run reports and exposes the result values to snapshot.
type Source interface {
	msg.Publisher
	Values(model, attr string) ([]interface{}, []float64, error)
}

// snapshotAttrs are the model attributes copied into each run snapshot.
var snapshotAttrs = [][2]string{
	{"Bus", "v"}, {"Bus", "a"},
	{"Slack", "p"}, {"Slack", "q"},
	{"PV", "p"}, {"PV", "q"},
}

// Handler writes run reports to MongoDB.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	source Source
	stop   chan bool
}

type config struct {
	URI      string `json:"URI" yaml:"uri"`
	Database string `json:"Database" yaml:"database"`
	Port     string `json:"Port" yaml:"port"`
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
func New(configPath string, system Source) (Handler, error) {
	cfg := config{}
	if err := conf.Load(configPath, &cfg); err != nil {
		return Handler{}, err
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
		source: system,
		stop:   make(chan bool),
	}, nil
}

// Stop ends Process.
func (h *Handler) Stop() {
	h.stop <- true
}

func (c config) uri() string {
	if c.Port == "" {
		return c.URI
	}
	return c.URI + ":" + c.Port
}

// reportToBSON returns the upsert filter and update for a run report message.
func reportToBSON(m msg.Msg) (bson.M, bson.D, error) {
	report, ok := m.Payload().(routine.Report)
	if !ok {
		return nil, nil, ErrPayload
	}
	filter := bson.M{"routine": report.Routine}
	update := bson.D{
		{Key: "$set", Value: bson.M{
			"routine":   report.Routine,
			"runId":     report.ID.String(),
			"exitCode":  report.ExitCode,
			"execTime":  report.ExecTime,
			"objective": report.Objective,
			"success":   report.Success,
			"finished":  report.Finished,
			"pid":       m.PID().String(),
		}},
		{Key: "$inc", Value: bson.M{"runs": 1}},
	}
	return filter, update, nil
}

// snapshotToBSON builds the per-run document holding result values by model.
func snapshotToBSON(report routine.Report, s Source) bson.D {
	models := bson.M{}
	for _, ma := range snapshotAttrs {
		idx, values, err := s.Values(ma[0], ma[1])
		if err != nil {
			log.Printf("[Mongo] WARN snapshot %s.%s: %v\n", ma[0], ma[1], err)
			continue
		}
		doc, ok := models[ma[0]].(bson.M)
		if !ok {
			doc = bson.M{"idx": idx}
			models[ma[0]] = doc
		}
		doc[ma[1]] = values
	}
	return bson.D{
		{Key: "runId", Value: report.ID.String()},
		{Key: "routine", Value: report.Routine},
		{Key: "finished", Value: report.Finished},
		{Key: "models", Value: models},
	}
}

// Process connects to MongoDB and stores reports until Stop.
func (h Handler) Process() error {
	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(h.config.uri()))
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	db := client.Database(h.config.Database)
	reports := db.Collection("routineReports")
	snapshots := db.Collection("routineSnapshots")
	log.Println("[Mongo] Process Started")

loop:
	for {
		select {
		case m := <-h.inbox:
			filter, update, err := reportToBSON(m)
			if err != nil {
				log.Printf("[Mongo] WARN %v\n", err)
				continue
			}
			opts := options.Update().SetUpsert(true)
			if _, err := reports.UpdateOne(ctx, filter, update, opts); err != nil {
				log.Printf("[Mongo] WARN report upsert: %v\n", err)
			}
			report := m.Payload().(routine.Report)
			if _, err := snapshots.InsertOne(ctx, snapshotToBSON(report, h.source)); err != nil {
				log.Printf("[Mongo] WARN snapshot insert: %v\n", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
	return nil
}
