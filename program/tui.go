package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tui "github.com/charmbracelet/bubbletea"
	styles "github.com/charmbracelet/lipgloss"
	plot "github.com/chriskim06/drawille-go"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/keilerkonzept/chat-trending/trending"
)

var (
	selectedColor = styles.AdaptiveColor{Light: "0", Dark: "9"}
	borderColor   = styles.AdaptiveColor{Light: "#555", Dark: "#555"}
	selectedFg    = styles.NewStyle().Foreground(selectedColor)
	borderFg      = styles.NewStyle().Foreground(borderColor)
	alertFg       = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
	plotStyle     = styles.NewStyle().
			BorderStyle(styles.NormalBorder()).
			Foreground(borderColor).
			BorderForeground(borderColor)
)

// snapshotMsg carries a delivered ranking into the update loop.
type snapshotMsg trending.Snapshot

type PlotTickMsg time.Time

func doPlotTick() tui.Cmd {
	return tui.Every(time.Second/time.Duration(config.Render.PlotFPS), func(t time.Time) tui.Msg {
		return PlotTickMsg(t)
	})
}

type errMsg struct{ err error }

type inputDoneMsg struct{}

type model struct {
	width, height  int
	leftPaneWidth  int
	rightPaneWidth int

	ctx    context.Context
	engine *trending.Engine
	feeder *feeder
	source source

	track    bool
	logScale atomic.Bool
	err      error
	status   string
	done     bool

	list         list.Model
	listStyle    styles.Style
	listDelegate *list.DefaultDelegate
	help         help.Model
	plot         *plot.Canvas

	history        *history
	plotData       [][]float64
	plotLineColors []plot.Color
	items          []trending.Item

	metrics *ingestMetrics
	resend  *rate.Limiter

	mu sync.Mutex
}

func newModel(ctx context.Context, engine *trending.Engine, f *feeder, src source) *model {
	const (
		defaultWidth  = 80
		defaultHeight = 20
	)

	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = styles.NewStyle().
		Border(styles.NormalBorder(), false, false, false, true).
		BorderForeground(borderColor).
		Foreground(selectedColor).
		Bold(false).
		Padding(0, 0, 0, 1)
	d.Styles.SelectedDesc = d.Styles.SelectedTitle.
		Foreground(selectedColor)
	d.ShowDescription = true

	l := list.New(make([]list.Item, 0), d, defaultWidth/2-2, defaultHeight)
	l.Styles.NoItems = l.Styles.NoItems.
		Padding(0, 2)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)

	maxEntries := engine.Config().MaxEntries
	n := f.history.length()
	p := plot.NewCanvas(defaultWidth, defaultHeight)
	p.NumDataPoints = n
	p.ShowAxis = false
	p.LineColors = make([]plot.Color, maxEntries+1)

	m := &model{
		ctx:            ctx,
		engine:         engine,
		feeder:         f,
		source:         src,
		track:          true,
		help:           help.New(),
		list:           l,
		listDelegate:   &d,
		plot:           &p,
		history:        f.history,
		plotData:       make([][]float64, maxEntries+1),
		plotLineColors: make([]plot.Color, maxEntries+1),
		metrics:        f.metrics,
		resend:         rate.NewLimiter(rate.Every(max(time.Nanosecond, config.Render.ResendCooldown)), 1),
	}
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(defaultWidth, config.Render.ViewSplit)
	m.logScale.Store(config.Render.LogScale)
	for i := range m.plotData {
		m.plotData[i] = make([]float64, n)
	}
	m.plot.Fill(m.plotData)
	return m
}

func (m *model) rightWidth() int {
	if m.rightPaneWidth > 0 {
		return m.rightPaneWidth
	}
	_, right := computePaneWidths(m.width, config.Render.ViewSplit)
	return right
}

func (m *model) readInput() tui.Cmd {
	return func() tui.Msg {
		if err := m.source.run(m.ctx, m.feeder); err != nil {
			return errMsg{err}
		}
		return inputDoneMsg{}
	}
}

func (m *model) historyTickCmd() tui.Cmd {
	return func() tui.Msg {
		ticker := time.NewTicker(config.Render.HistoryTick)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return nil
			case t := <-ticker.C:
				m.feeder.waitIfPaused()
				m.history.advance(t)
			}
		}
	}
}

// frameCmd offers the engine a render point. It runs off the update loop:
// a delivery sends a snapshotMsg back into it.
func (m *model) frameCmd() tui.Cmd {
	return func() tui.Msg {
		m.engine.Frame()
		return nil
	}
}

func (m *model) Init() tui.Cmd {
	m.history.advance(time.Now())
	return tui.Batch(m.historyTickCmd(), m.readInput(), doPlotTick())
}

func (m *model) Update(msg tui.Msg) (tui.Model, tui.Cmd) {
	switch msg := msg.(type) {
	case errMsg:
		m.mu.Lock()
		m.err = msg.err
		m.mu.Unlock()
		return m, nil
	case inputDoneMsg:
		m.done = true
		return m, func() tui.Msg {
			m.engine.Flush()
			return nil
		}
	case snapshotMsg:
		m.metrics.observeRender(time.Since(msg.At))
		m.mu.Lock()
		m.items = msg.Items
		m.mu.Unlock()
		return m, m.updateList(msg)
	case PlotTickMsg:
		if m.feeder.isPaused() {
			return m, doPlotTick()
		}
		m.updatePlot()
		return m, tui.Batch(m.frameCmd(), doPlotTick())
	case tui.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(m.width, config.Render.ViewSplit)
		statsLines := 0
		if config.Render.Stats {
			// title + 5 metric lines
			statsLines = 6
		}
		// help + status
		available := max(1, m.height-statsLines-2)

		leftW := max(1, m.leftPaneWidth)
		rightW := max(1, m.rightPaneWidth)

		m.list.SetSize(leftW, available)
		m.list.Styles.Title = styles.NewStyle()
		m.list.Styles.PaginationStyle = styles.NewStyle()
		m.list.Styles.HelpStyle = styles.NewStyle()
		m.listStyle = styles.NewStyle().Width(leftW).Height(available)

		// plot canvas + 1 label line, wrapped in a border
		plotHeight := max(1, available-3)
		plotWidth := max(1, rightW-2)
		m.resizePlot(plotWidth, plotHeight)
		return m, nil
	case tui.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tui.Quit
		case key.Matches(msg, keys.Up):
			m.list.CursorUp()
			return m, nil
		case key.Matches(msg, keys.Down):
			m.list.CursorDown()
			return m, nil
		case key.Matches(msg, keys.Pause):
			m.feeder.togglePause()
			return m, nil
		case key.Matches(msg, keys.Track):
			m.toggleTracking()
			return m, nil
		case key.Matches(msg, keys.Scale):
			m.logScale.Store(!m.logScale.Load())
			return m, nil
		case key.Matches(msg, keys.Clear):
			m.feeder.sessionChange()
			m.status = "cleared"
			return m, nil
		case key.Matches(msg, keys.Resend):
			m.resendSlot(int(msg.String()[0] - '0'))
			return m, nil
		}
	}
	var cmd tui.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *model) toggleTracking() {
	m.mu.Lock()
	m.track = !m.track
	m.mu.Unlock()
}

func (m *model) resendSlot(slot int) {
	if !m.resend.Allow() {
		m.status = "resend: cooling down"
		return
	}
	text, ok := m.engine.Resend(slot)
	if !ok {
		m.status = fmt.Sprintf("resend: slot %d is empty", slot)
		return
	}
	if err := clipboard.WriteAll(text); err != nil {
		m.status = "resend: " + err.Error()
		return
	}
	m.status = fmt.Sprintf("copied #%d: %s", slot, text)
}

func (m *model) resizePlot(w int, h int) {
	p := plot.NewCanvas(w, h)
	p.NumDataPoints = m.plot.NumDataPoints
	p.ShowAxis = m.plot.ShowAxis
	p.LineColors = m.plot.LineColors
	m.plot = &p
}

func (m *model) updateList(msg tui.Msg) tui.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]list.Item, len(m.items))
	order := make(map[string]int, len(m.items))

	m.listDelegate.Styles.SelectedTitle = m.listDelegate.Styles.SelectedTitle.Bold(m.track)
	m.listDelegate.Styles.SelectedDesc = m.listDelegate.Styles.SelectedDesc.Bold(m.track)
	m.list.SetDelegate(m.listDelegate)

	for i, it := range m.items {
		items[i] = listItem{Item: it}
		order[it.Signature] = i
	}
	selected := m.list.SelectedItem()
	set := m.list.SetItems(items)
	var cmd tui.Cmd
	if m.track && selected != nil {
		if i, ok := order[selected.(listItem).Signature]; ok {
			m.list.Select(i)
		}
	}
	m.list, cmd = m.list.Update(msg)
	return tui.Batch(set, cmd)
}

// updatePlot draws one history line per trending row; the selected row is
// drawn last, in the highlight color.
func (m *model) updatePlot() {
	logScale := m.logScale.Load()

	var highlight, dim plot.Color
	if styles.DefaultRenderer().HasDarkBackground() {
		highlight, dim = plot.Red, plot.DimGray
	} else {
		highlight, dim = plot.Black, plot.LightGray
	}

	m.mu.Lock()
	selected := m.list.Index()
	n := min(len(m.items), len(m.plotData)-1)
	sigs := make([]string, n)
	for i := range sigs {
		sigs[i] = m.items[(1+selected+i)%len(m.items)].Signature
	}
	m.mu.Unlock()
	if n == 0 {
		return
	}

	for i := range m.plotLineColors {
		m.plotLineColors[i] = dim
	}
	m.history.fill(sigs, m.plotData, logScale)
	m.plotLineColors[n] = highlight
	m.plotLineColors[n-1] = dim
	clear(m.plotData[n])
	m.plotData[n], m.plotData[n-1] = m.plotData[n-1], m.plotData[n]
	m.plotLineColors, m.plot.LineColors = m.plot.LineColors, m.plotLineColors
	m.plot.Fill(m.plotData[:n+1])
}

func (m *model) View() string {
	left := m.listStyle.Render(m.list.View())
	canvas := m.plot.String()
	if canvas == "" {
		canvas = emptyPlot(m)
	}

	linColor, logColor := selectedFg, borderFg
	if m.logScale.Load() {
		linColor, logColor = borderFg, selectedFg
	}
	linLog := linColor.Render("LIN") + " " + logColor.Render("LOG")

	labels := ""
	if latest := m.history.latest(); !latest.IsZero() {
		span := config.Render.HistoryWindow
		w := max(0, m.rightWidth()-2)
		leftLabel := latest.Add(-span).Format("15:04:05")
		rightLabel := latest.Format("15:04:05")
		minWidth := len(leftLabel) + len(rightLabel) + len("LIN LOG") + 4
		if w < minWidth {
			labels = " " + linLog
		} else {
			spaceTotal := w - (len(leftLabel) + len(rightLabel) + len("LIN LOG"))
			leftGap := spaceTotal / 2
			labels = borderFg.Render(leftLabel) +
				strings.Repeat(" ", leftGap) +
				linLog +
				strings.Repeat(" ", spaceTotal-leftGap) +
				borderFg.Render(rightLabel)
		}
	}
	right := plotStyle.Render(styles.JoinVertical(styles.Top, canvas, labels))
	view := styles.JoinHorizontal(styles.Top, left, right)

	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return styles.JoinVertical(styles.Left, view, alertFg.Render("ERROR: "+err.Error()), m.help.View(keys))
	}

	blocks := []string{view}
	if config.Render.Stats {
		blocks = append(blocks, alertFg.Render(m.statsView()))
	}
	blocks = append(blocks, borderFg.Render(m.status), m.help.View(keys))
	return styles.JoinVertical(styles.Left, blocks...)
}

func (m *model) statsView() string {
	snap := m.metrics.snapshot()
	st := m.engine.Stats()
	title := "STATS (RUNNING)"
	switch {
	case m.feeder.isPaused():
		title = "STATS (PAUSED)"
	case m.done:
		title = "STATS (END OF INPUT)"
	}
	lastIngest := "n/a"
	if !snap.lastIngest.IsZero() {
		lastIngest = humanize.Time(snap.lastIngest)
	}
	return strings.Join([]string{
		title,
		fmt.Sprintf("records: %s (%s rec/s), last %s", humanize.Comma(int64(snap.records)), humanize.Comma(int64(snap.avgRps)), lastIngest),
		fmt.Sprintf("accepted: %s  duplicate: %s  invalid: %s", humanize.Comma(int64(st.Accepted)), humanize.Comma(int64(st.Duplicates)), humanize.Comma(int64(st.Invalid))),
		fmt.Sprintf("window: %s entries, %s signatures, %s evicted", humanize.Comma(int64(st.WindowLen)), humanize.Comma(int64(st.Signatures)), humanize.Comma(int64(st.Evicted))),
		fmt.Sprintf("dedup: %s ids, %s handles", humanize.Comma(int64(st.Identities)), humanize.Comma(int64(st.Handles))),
		fmt.Sprintf("render lag p95: %s (%d renders)", formatMetricDuration(snap.renderLag.p95), st.Renders),
	}, "\n")
}

func emptyPlot(m *model) string {
	if m.width < 2 || m.height < 4 {
		return ""
	}
	var sb strings.Builder
	spaces := strings.Repeat(" ", m.list.Width())
	for range m.list.Height() - 2 {
		sb.WriteString(spaces)
		sb.WriteRune('\n')
	}
	return sb.String()
}

func formatMetricDuration(d time.Duration) string {
	if d <= 0 {
		return "0.000ms"
	}
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

func computePaneWidths(totalWidth int, splitPercent int) (left, right int) {
	if totalWidth <= 1 {
		return 1, 1
	}
	left = min(max(1, totalWidth*splitPercent/100), totalWidth-1)
	right = totalWidth - left

	// Keep panes readable when the terminal is wide enough.
	const minPane = 18
	if totalWidth >= minPane*2 {
		if left < minPane {
			left = minPane
			right = totalWidth - left
		}
		if right < minPane {
			right = minPane
			left = totalWidth - right
		}
	}
	return max(1, left), max(1, right)
}

type listItem struct {
	trending.Item
}

func (i listItem) Title() string       { return fmt.Sprintf("#%-2d %s", i.Slot, i.Text()) }
func (i listItem) Description() string { return fmt.Sprintf("    %d", i.Count) }
func (i listItem) FilterValue() string { return i.Signature }

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Pause, k.Track, k.Scale, k.Clear, k.Resend}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Quit, k.Pause, k.Clear},
		{k.Up, k.Down, k.Track, k.Scale, k.Resend},
	}
}

type keyMap struct {
	Track  key.Binding
	Scale  key.Binding
	Pause  key.Binding
	Clear  key.Binding
	Resend key.Binding
	Up     key.Binding
	Down   key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Track: key.NewBinding(
		key.WithKeys("t", " "),
		key.WithHelp("t/space", "track"),
	),
	Scale: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "log/lin"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "pause"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear"),
	),
	Resend: key.NewBinding(
		key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"),
		key.WithHelp("1-9", "copy"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q/ctrl+c", "quit"),
	),
}
