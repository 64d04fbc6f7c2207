package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

const (
	maxLogs       = 50
	logTimeLayout = "02.01.2006 - 15:04:05.000000000Z07:00"
)

// Стили UI
var (
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	mutedColor     = lipgloss.Color("#999999")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("#222222"))
	footerStyle   = lipgloss.NewStyle().Foreground(mutedColor).Padding(0, 1)

	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// TermUI терминальная панель рекомендаций
type TermUI struct {
	config  config.UIConfig
	logFile string

	mu      sync.RWMutex
	recs    []*models.Recommendation
	updated time.Time
	logs    []string

	program *tea.Program
}

type refreshMsg struct{}
type tickMsg struct{}

// NewTermUI создает панель. logFile - JSON лог приложения, показывается в нижней секции.
func NewTermUI(cfg config.UIConfig, logFile string) *TermUI {
	return &TermUI{
		config:  cfg,
		logFile: logFile,
		logs:    []string{"bandarscope запущен. Ожидание данных..."},
	}
}

// Run запускает интерфейс и блокируется до выхода или отмены ctx
func (ui *TermUI) Run(ctx context.Context) error {
	ui.reloadLogs()

	ui.mu.Lock()
	ui.program = tea.NewProgram(newModel(ui), tea.WithAltScreen(), tea.WithContext(ctx))
	program := ui.program
	ui.mu.Unlock()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// Update заменяет отображаемые рекомендации
func (ui *TermUI) Update(recs []*models.Recommendation) {
	ui.mu.Lock()
	ui.recs = recs
	ui.updated = time.Now()
	program := ui.program
	ui.mu.Unlock()

	if program != nil {
		program.Send(refreshMsg{})
	}
}

func (ui *TermUI) snapshot() ([]*models.Recommendation, time.Time, []string) {
	ui.mu.RLock()
	defer ui.mu.RUnlock()
	return ui.recs, ui.updated, ui.logs
}

func (ui *TermUI) reloadLogs() {
	if ui.logFile == "" {
		return
	}
	logs, err := loadLogs(ui.logFile, maxLogs)
	if err != nil {
		logger.Warn("Ошибка загрузки логов", zap.Error(err))
		return
	}
	if len(logs) == 0 {
		return
	}
	ui.mu.Lock()
	ui.logs = logs
	ui.mu.Unlock()
}

func (ui *TermUI) refreshInterval() time.Duration {
	if ui.config.RefreshRate <= 0 {
		return time.Second
	}
	return time.Duration(ui.config.RefreshRate) * time.Millisecond
}

// loadLogs читает последние n строк JSON лога
func loadLogs(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var logs []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > n {
			logs = logs[1:]
		}
	}
	return logs, scanner.Err()
}

// formatLogLine превращает запись zap в строку вида [15:04:05] [INFO] сообщение (ключ: значение)
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse(logTimeLayout, ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "level", "ts", "msg", "caller":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, entry[k])
	}
	return b.String()
}

// bubbleModel модель bubbletea
type bubbleModel struct {
	ui       *TermUI
	selected int
	width    int
	height   int
}

func newModel(ui *TermUI) bubbleModel {
	return bubbleModel{ui: ui, width: 120, height: 40}
}

func (m bubbleModel) tick() tea.Cmd {
	return tea.Tick(m.ui.refreshInterval(), func(time.Time) tea.Msg { return tickMsg{} })
}

func (m bubbleModel) Init() tea.Cmd {
	return m.tick()
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.selected = max(0, m.selected-1)
		case "down", "j":
			recs, _, _ := m.ui.snapshot()
			m.selected = max(0, min(len(recs)-1, m.selected+1))
		case "r":
			m.ui.reloadLogs()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ui.reloadLogs()
		return m, m.tick()

	case refreshMsg:
		recs, _, _ := m.ui.snapshot()
		m.selected = max(0, min(len(recs)-1, m.selected))
	}

	return m, nil
}

func (m bubbleModel) View() string {
	recs, updated, logs := m.ui.snapshot()

	title := titleStyle.Render("bandarscope - технический анализ и бандармология")

	var details string
	if m.selected < len(recs) {
		details = renderDetails(recs[m.selected])
	}

	status := "нет данных"
	if !updated.IsZero() {
		status = "обновлено " + updated.Format("15:04:05")
	}
	footer := footerStyle.Render("Клавиши: ↑/↓ - навигация, R - перезагрузить логи, Q - выход | " + status)

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"",
			renderRecommendations(recs, m.selected),
			details,
			renderLogs(logs, max(5, m.height/4)),
			footer,
		),
	)
}

func renderRecommendations(recs []*models.Recommendation, selected int) string {
	var content strings.Builder

	if len(recs) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}
	for i, r := range recs {
		line := fmt.Sprintf("  %-10s %s  уверенность %3.0f%%  оценка %+.3f  цена %.8g  риск %s",
			r.Pair.String(), formatAction(r.Action, r.Confidence), r.Confidence*100, r.Score, r.Price, r.Risk)
		if r.Stale {
			line += lipgloss.NewStyle().Foreground(warningColor).Render("  [устарело]")
		}
		if i == selected {
			line = selectedStyle.Render("> " + line[2:])
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("РЕКОМЕНДАЦИИ"),
		content.String(),
	))
}

func renderDetails(r *models.Recommendation) string {
	var content strings.Builder

	for _, name := range sortedIndicatorNames(r.Indicators) {
		ind := r.Indicators[name]
		if !ind.Present {
			fmt.Fprintf(&content, "  %-13s %s\n", name,
				lipgloss.NewStyle().Foreground(mutedColor).Render("нет: "+ind.Reason))
			continue
		}
		fmt.Fprintf(&content, "  %-13s %12.4f  %+.3f  %s  вес %.3f\n",
			name, ind.Value, ind.Score, ind.Signal, r.Weights[name])
	}
	if r.TechnicalError != "" {
		fmt.Fprintf(&content, "  технический анализ: %s\n", r.TechnicalError)
	}

	if b := r.Bandarmology; b != nil {
		fmt.Fprintf(&content, "\n  стакан: %s  сила %+.3f  дисбаланс %+.3f  стены %d/%d  давление %+.3f\n",
			b.Signal, b.Magnitude, b.Imbalance, len(b.BidWalls), len(b.AskWalls), b.WallPressure)
		fmt.Fprintf(&content, "  спред %.4f%% (%s)  киты: %v, доля %.1f%%\n",
			b.Spread.SpreadPct, b.Spread.Liquidity, b.Whale.Detected, b.Whale.Share*100)
	} else if r.BandarmologyError != "" {
		fmt.Fprintf(&content, "\n  стакан: %s\n", r.BandarmologyError)
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("ДЕТАЛИ "+strings.ToUpper(r.Pair.String())),
		content.String(),
	))
}

func renderLogs(logs []string, limit int) string {
	var content strings.Builder

	start := max(0, len(logs)-limit)
	for _, line := range logs[start:] {
		switch {
		case strings.Contains(line, "[ERROR]"):
			line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
		case strings.Contains(line, "[WARN]"):
			line = lipgloss.NewStyle().Foreground(warningColor).Render(line)
		case strings.Contains(line, "[INFO]"):
			line = lipgloss.NewStyle().Foreground(successColor).Render(line)
		case strings.Contains(line, "[DEBUG]"):
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(line)
		}
		content.WriteString("  " + line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("ЛОГИ"),
		content.String(),
	))
}

func formatAction(action models.Action, confidence float64) string {
	var style lipgloss.Style
	switch action {
	case models.ActionBuy:
		style = lipgloss.NewStyle().Foreground(successColor)
	case models.ActionSell:
		style = lipgloss.NewStyle().Foreground(errorColor)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}
	if confidence >= 0.75 {
		style = style.Bold(true)
	}
	return style.Render(fmt.Sprintf("%-4s", action))
}

func sortedIndicatorNames(set models.IndicatorSet) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
