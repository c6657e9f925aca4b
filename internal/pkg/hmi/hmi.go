/*
hmi.go Terminal views of dispatch results. Tables are built once from the model's device
idx and refreshed in place after each run.
*/

package hmi

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gdamore/tcell"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/rivo/tview"
)

// Source exposes device attribute values with their idx.
type Source interface {
	Values(model, attr string) ([]interface{}, []float64, error)
}

// Column is one numeric column of a result table.
type Column struct {
	Header string
	Attr   string
	Scale  float64
	Format string
}

// Table is a tview table bound to device models of a Source.
type Table struct {
	*tview.Table
	models  []string
	columns []Column
}

// BusTable lists bus voltage magnitude and angle.
func BusTable(src Source) (*Table, error) {
	cols := []Column{
		{"V (p.u.)", "v", 1, "%.4f"},
		{"Angle (deg)", "a", 180 / math.Pi, "%.3f"},
	}
	return NewTable(" Buses ", src, []string{"Bus"}, cols)
}

// GenTable lists generator output in MW and MVAr on the given power base.
func GenTable(src Source, baseMVA float64) (*Table, error) {
	cols := []Column{
		{"P (MW)", "p", baseMVA, "%.2f"},
		{"Q (MVAr)", "q", baseMVA, "%.2f"},
		{"Online", "u", 1, "%.0f"},
	}
	return NewTable(" Generators ", src, []string{"Slack", "PV"}, cols)
}

// NewTable builds a table with one row per device of models and fills it.
func NewTable(title string, src Source, models []string, cols []Column) (*Table, error) {
	t := &Table{
		Table:   tview.NewTable().SetFixed(1, 2),
		models:  models,
		columns: cols,
	}
	t.SetBorder(true).SetTitle(title)

	header := append([]string{"Model", "Idx"}, headers(cols)...)
	for c, h := range header {
		t.SetCell(0, c, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false))
	}
	row := 1
	for _, model := range models {
		idx, _, err := src.Values(model, cols[0].Attr)
		if err != nil {
			return nil, err
		}
		for _, id := range idx {
			t.SetCell(row, 0, tview.NewTableCell(model).SetTextColor(tcell.ColorDarkCyan))
			t.SetCell(row, 1, tview.NewTableCell(fmt.Sprint(id)).SetTextColor(tcell.ColorDarkCyan))
			row++
		}
	}
	return t, t.Refresh(src)
}

func headers(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Header
	}
	return out
}

// Refresh rewrites every value cell from src.
func (t *Table) Refresh(src Source) error {
	for c, col := range t.columns {
		row := 1
		for _, model := range t.models {
			_, values, err := src.Values(model, col.Attr)
			if err != nil {
				return err
			}
			for _, v := range values {
				t.SetCell(row, c+2, tview.NewTableCell(fmt.Sprintf(col.Format, v*col.Scale)).
					SetTextColor(tcell.ColorWhite).
					SetAlign(tview.AlignRight))
				row++
			}
		}
	}
	return nil
}

// Publisher is a Source that also broadcasts run reports.
type Publisher interface {
	Source
	msg.Publisher
}

// Run shows the tables and refreshes them whenever a run report is published
// until ctx is done or the user quits.
func Run(ctx context.Context, src Publisher, baseMVA float64) error {
	buses, err := BusTable(src)
	if err != nil {
		return err
	}
	gens, err := GenTable(src, baseMVA)
	if err != nil {
		return err
	}
	status := tview.NewTextView().SetText("waiting for a run, press ESC to quit")

	app := tview.NewApplication()
	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			AddItem(buses, 0, 1, false).
			AddItem(gens, 0, 1, true), 0, 1, true).
		AddItem(status, 1, 0, false)
	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return ev
	})

	pid := uuid.New()
	ch, err := src.Subscribe(pid, msg.Result)
	if err != nil {
		return err
	}
	defer src.Unsubscribe(pid)

	go func() {
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				app.QueueUpdateDraw(func() {
					if err := buses.Refresh(src); err != nil {
						log.Printf("[HMI] WARN %v\n", err)
					}
					if err := gens.Refresh(src); err != nil {
						log.Printf("[HMI] WARN %v\n", err)
					}
					status.SetText(fmt.Sprintf("%v  %+v", time.Now().Format(time.Kitchen), m.Payload()))
				})
			case <-ctx.Done():
				app.Stop()
				return
			}
		}
	}()

	return app.SetRoot(layout, true).Run()
}
