package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// sseEvent is one server-sent event frame.
type sseEvent struct {
	Name string
	Data []byte
}

// sseStream wraps a live event-stream response. Close aborts the read loop
// by closing the body.
type sseStream struct {
	body   io.ReadCloser
	events chan sseEvent
	errs   chan error
}

// openStream subscribes to the batch event stream. The caller owns the
// returned stream and must Close it.
func openStream(ctx context.Context, httpClient *http.Client, baseURL string, batchID uuid.UUID) (*sseStream, error) {
	url := fmt.Sprintf("%s/v1/batches/%s/events", strings.TrimRight(baseURL, "/"), batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe to batch %s: %w", batchID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("subscribe to batch %s: unexpected status %d", batchID, resp.StatusCode)
	}

	s := &sseStream{
		body:   resp.Body,
		events: make(chan sseEvent),
		errs:   make(chan error, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// readLoop parses event/data line pairs and delivers each complete frame.
// Comment lines (heartbeats) are skipped. The loop ends when the server
// closes the stream after the terminal event or when the connection drops;
// either way the events channel is closed and any read error is reported.
func (s *sseStream) readLoop() {
	defer close(s.events)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" {
				s.events <- sseEvent{Name: name, Data: data}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		s.errs <- err
	}
}
