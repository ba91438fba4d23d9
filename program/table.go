package main

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/keilerkonzept/chat-trending/trending"
)

// tableSink prints every delivered snapshot as a plain table, for -plain
// mode and non-interactive use.
type tableSink struct {
	mu      sync.Mutex
	w       io.Writer
	history *history
}

func newTableSink(w io.Writer, h *history) *tableSink {
	return &tableSink{w: w, history: h}
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap: tw.WrapNone,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{
					ShowHeader: tw.Off,
				},
			},
		}),
	)
}

func (s *tableSink) Render(snap trending.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.w, "-- %s --\n", snap.At.Format("15:04:05.000"))
	if snap.Len() == 0 {
		fmt.Fprintln(s.w, "(nothing trending)")
		return
	}

	rows := make([][]string, 0, snap.Len())
	for _, it := range snap.Items {
		row := []string{
			strconv.Itoa(it.Slot),
			it.Text(),
			strconv.Itoa(it.Count),
			humanize.RelTime(it.LastSeen, snap.At, "ago", "from now"),
		}
		if s.history != nil {
			row = append(row, strconv.FormatUint(uint64(s.history.count(it.Signature)), 10))
		}
		rows = append(rows, row)
	}

	header := []string{"#", "Message", "Count", "Last seen"}
	if s.history != nil {
		header = append(header, "History")
	}
	table := newTable(s.w)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		fmt.Fprintf(s.w, "render: %v\n", err)
		return
	}
	if err := table.Render(); err != nil {
		fmt.Fprintf(s.w, "render: %v\n", err)
	}
}

func writeStats(w io.Writer, st trending.Stats, snap metricsSnapshot, elapsed time.Duration) {
	fmt.Fprintf(w, "records: %s (accepted %s, duplicate %s, invalid %s) in %s\n",
		humanize.Comma(int64(snap.records)),
		humanize.Comma(int64(st.Accepted)),
		humanize.Comma(int64(st.Duplicates)),
		humanize.Comma(int64(st.Invalid)),
		elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "window: %s entries, %s signatures, %s evicted\n",
		humanize.Comma(int64(st.WindowLen)),
		humanize.Comma(int64(st.Signatures)),
		humanize.Comma(int64(st.Evicted)))
	fmt.Fprintf(w, "dedup: %s ids, %s handles, %s cache evictions\n",
		humanize.Comma(int64(st.Identities)),
		humanize.Comma(int64(st.Handles)),
		humanize.Comma(int64(st.CacheEvictions)))
	fmt.Fprintf(w, "renders: %d, sessions: %d\n", st.Renders, st.Sessions)
}
