package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	signalMu   sync.Mutex
	signalLog  *log.Logger
	signalDump bool
)

// SetSignalWriter 设置逐条信号的转储输出；nil 关闭转储。
func SetSignalWriter(w io.Writer) {
	signalMu.Lock()
	defer signalMu.Unlock()
	if w == nil {
		signalLog = nil
		return
	}
	signalLog = log.New(w, "", log.LstdFlags)
}

// EnableSignalDump 控制是否附带观测值明细。
func EnableSignalDump(enabled bool) {
	signalMu.Lock()
	signalDump = enabled
	signalMu.Unlock()
}

type signalSection struct {
	Title string
	Body  string
}

func logSignal(runID, key string, sections []signalSection) {
	signalMu.Lock()
	out := signalLog
	signalMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[SIGNAL]")
	if runID != "" {
		b.WriteString("[")
		b.WriteString(runID)
		b.WriteString("]")
	}
	if key != "" {
		b.WriteString("[")
		b.WriteString(key)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

// LogSignal 记录一次观测产生的决策。
func LogSignal(runID, key, decision, observation string) {
	sections := []signalSection{{Title: "DECISION", Body: decision}}
	signalMu.Lock()
	dump := signalDump
	signalMu.Unlock()
	if dump && strings.TrimSpace(observation) != "" {
		sections = append(sections, signalSection{Title: "OBSERVATION", Body: observation})
	}
	logSignal(runID, key, sections)
}
