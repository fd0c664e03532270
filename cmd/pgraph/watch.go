package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paramgraph/internal/client"
	"github.com/alfredjeanlab/paramgraph/internal/events"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/ui"
)

const watchDebounce = 200 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch [<workbook-id>]",
	Short: "Stream workbook events as they happen",
	Long: `Stream paramgraph events. Events come from NATS when PARAMGRAPH_NATS_URL
or the active remote names a NATS server, and from the server's SSE stream
otherwise. With --view the workbook's current view is re-printed after each
burst of events.`,
	GroupID: "views",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var wbID string
		if len(args) == 1 {
			wbID = args[0]
		}
		showView, _ := cmd.Flags().GetBool("view")
		if showView && wbID == "" {
			return fmt.Errorf("--view needs a workbook id")
		}
		topics, _ := cmd.Flags().GetStringSlice("topics")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		w := &watcher{
			filter:   events.Filter{Topics: topics, WorkbookID: wbID},
			showView: showView,
		}
		if showView {
			w.refresh(ctx)
		}

		natsURL := os.Getenv("PARAMGRAPH_NATS_URL")
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL != "" {
			return w.watchNATS(ctx, natsURL)
		}
		return w.watchSSE(ctx)
	},
}

type watcher struct {
	filter   events.Filter
	showView bool
}

// handle prints m when it passes the filter and reports whether it did.
func (w *watcher) handle(m events.Message) bool {
	if !w.filter.Match(m) {
		return false
	}
	if jsonOutput {
		fmt.Printf(`{"topic":%q,"data":%s}`+"\n", m.Topic, m.Data)
	} else {
		fmt.Println(formatEvent(m))
	}
	return true
}

func (w *watcher) refresh(ctx context.Context) {
	p, err := graphClient.GetView(ctx, w.filter.WorkbookID, nil)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderError("Error:"), err)
		}
		return
	}
	if jsonOutput {
		_ = printJSON(os.Stdout, p)
		return
	}
	printProjection(os.Stdout, p)
}

// watchNATS subscribes to the bus and re-prints the view after a quiet
// period. A reconnect triggers an immediate refresh since events may have
// been missed.
func (w *watcher) watchNATS(ctx context.Context, natsURL string) error {
	reconnectCh := make(chan struct{}, 1)

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	debounce := time.NewTimer(0)
	debounce.Stop()
	select {
	case <-debounce.C:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if w.handle(m) && w.showView {
				debounce.Reset(watchDebounce)
			}
		case <-reconnectCh:
			if w.showView {
				debounce.Reset(0)
			}
		case <-debounce.C:
			w.refresh(ctx)
		}
	}
}

// watchSSE reads the server's event stream, reconnecting with the last
// seen event id until ctx is done.
func (w *watcher) watchSSE(ctx context.Context) error {
	hc := httpClient()
	filter := client.StreamFilter{Topics: w.filter.Topics, WorkbookID: w.filter.WorkbookID}

	var pending *time.Timer
	for {
		err := hc.StreamEvents(ctx, filter, func(ev client.StreamEvent) error {
			filter.LastEventID = ev.ID
			if w.handle(events.Message{Topic: ev.Topic, Data: ev.Data}) && w.showView {
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(watchDebounce, func() { w.refresh(ctx) })
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("event stream: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// formatEvent renders one event as a single line.
func formatEvent(m events.Message) string {
	topic := ui.RenderAccent(strings.TrimPrefix(m.Topic, "paramgraph."))
	v, err := events.Decode(m)
	if err != nil {
		return fmt.Sprintf("%s %s", topic, m.Data)
	}
	switch e := v.(type) {
	case *events.WorkbookCreated:
		if e.Workbook == nil {
			return topic
		}
		return fmt.Sprintf("%s %s %q: %d parameters, %d edges", topic, e.Workbook.ID, e.Workbook.Name, e.Workbook.ParamCount, e.Edges)
	case *events.WorkbookDeleted:
		return fmt.Sprintf("%s %s", topic, e.WorkbookID)
	case *events.ValuesComputed:
		if e.Error != "" {
			return fmt.Sprintf("%s %s #%d %s", topic, e.WorkbookID, e.Sequence, ui.RenderError(e.Error))
		}
		return fmt.Sprintf("%s %s #%d: %d applied, %d failed%s", topic, e.WorkbookID, e.Sequence, e.Applied, e.Failed, formatValues(e.Values))
	case *events.CycleDetected:
		cycles := make([]string, len(e.Cycles))
		for i, c := range e.Cycles {
			cycles[i] = strings.Join(c, " -> ")
		}
		return fmt.Sprintf("%s %s %s", topic, e.WorkbookID, ui.RenderWarn(strings.Join(cycles, "; ")))
	case *events.ViewChanged:
		s := fmt.Sprintf("%s %s %s/%s, %d nodes", topic, e.WorkbookID, e.Mode, e.State, e.Nodes)
		if e.Focal != "" {
			s += " around " + e.Focal
		}
		return s
	}
	return fmt.Sprintf("%s %s", topic, m.Data)
}

func formatValues(values model.ComputedMap) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(values))
	for id, cv := range values {
		if cv.Error != "" {
			parts = append(parts, id+"=#ERR")
			continue
		}
		parts = append(parts, id+"="+model.FormatValue(cv.Value))
	}
	slices.Sort(parts)
	return " (" + strings.Join(parts, ", ") + ")"
}

func init() {
	watchCmd.Flags().Bool("view", false, "re-print the workbook's view after changes")
	watchCmd.Flags().StringSlice("topics", nil, "topic patterns to show (e.g. paramgraph.values.*)")
}
