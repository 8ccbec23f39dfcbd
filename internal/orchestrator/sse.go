package orchestrator

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// sseEvent is one server-push message. Name is empty for the default
// message event.
type sseEvent struct {
	Name string
	Data string
}

// readEvents parses a text/event-stream body and invokes fn per event until
// the stream ends or fn returns false. Parse errors end the stream quietly;
// the polling loop is the authority of record and a dropped channel must
// never hang the wait.
func readEvents(r io.Reader, fn func(sseEvent) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name string
	var data []string
	flush := func() bool {
		if len(data) == 0 {
			name = ""
			return true
		}
		ev := sseEvent{Name: name, Data: strings.Join(data, "\n")}
		name = ""
		data = nil
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment/keepalive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
}

// progressUpdate is the decoded content of one progress event. Payloads are
// either a bare status token or JSON carrying status and/or the full scan
// log so far.
type progressUpdate struct {
	Status    string
	ScanLines []string
	Done      bool
}

func decodeProgress(ev sseEvent) progressUpdate {
	var upd progressUpdate
	data := strings.TrimSpace(ev.Data)

	switch strings.ToLower(ev.Name) {
	case "done":
		upd.Done = true
	case "scan_line":
		if data != "" && !strings.HasPrefix(data, "{") {
			upd.ScanLines = []string{data}
			return upd
		}
	}

	if strings.HasPrefix(data, "{") {
		var body struct {
			Status    string   `json:"status"`
			ScanLines []string `json:"scanLines"`
			Lines     []string `json:"scan_lines"`
		}
		if err := json.Unmarshal([]byte(data), &body); err == nil {
			upd.Status = strings.ToLower(strings.TrimSpace(body.Status))
			if len(body.ScanLines) > 0 {
				upd.ScanLines = body.ScanLines
			} else if len(body.Lines) > 0 {
				upd.ScanLines = body.Lines
			}
		}
	} else if data != "" {
		upd.Status = strings.ToLower(data)
	}

	if upd.Status == "done" {
		upd.Done = true
	}
	return upd
}
