// Package push implements the progress push service: per-scan websocket
// subscriber groups fed by the queue, processor, and crawl engine, adapted
// from the teacher's single global broadcast handler into scan-scoped
// fan-out groups.
package push

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// Message type discriminators sent server → subscriber.
const (
	TypeQueuePositionUpdate = "queue_position_update"
	TypeScanStarted         = "scan_started"
	TypePageProgress        = "page_progress"
	TypeImageFound          = "image_found"
	TypeScanComplete        = "scan_complete"
	TypeScanFailed          = "scan_failed"
	TypeStatsUpdate         = "stats_update"
	TypeLogEntry            = "log_entry"
)

type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// QueuePositionUpdate reports a queued job's place in line.
type QueuePositionUpdate struct {
	ScanID                string `json:"scan_id"`
	Position              int    `json:"position"`
	TotalInQueue          int    `json:"total_in_queue"`
	EstimatedWaitSeconds  *int64 `json:"estimated_wait_seconds,omitempty"`
}

// ScanStarted reports a job transitioning to Processing.
type ScanStarted struct {
	ScanID    string    `json:"scan_id"`
	TargetURL string    `json:"target_url"`
	StartedAt time.Time `json:"started_at"`
}

// PageProgress reports cumulative crawl progress for one scan.
type PageProgress struct {
	ScanID          string  `json:"scan_id"`
	CurrentURL      string  `json:"current_url"`
	PagesScanned    int     `json:"pages_scanned"`
	PagesDiscovered int     `json:"pages_discovered"`
	ProgressPercent float64 `json:"progress_percent"`
}

// ImageFound reports one non-WebP image observed during a scan.
type ImageFound struct {
	ScanID              string `json:"scan_id"`
	ImageURL            string `json:"image_url"`
	MIMEType            string `json:"mime_type"`
	SizeBytes           int64  `json:"size_bytes"`
	IsNonWebP           bool   `json:"is_non_webp"`
	TotalNonWebPCount   int64  `json:"total_non_webp_count"`
	PageURL             string `json:"page_url"`
}

// ScanComplete reports a terminal success.
type ScanComplete struct {
	ScanID            string    `json:"scan_id"`
	PagesScanned      int       `json:"pages_scanned"`
	ImagesFound       int64     `json:"images_found"`
	NonWebPCount      int64     `json:"non_webp_count"`
	DurationSeconds   float64   `json:"duration_seconds"`
	CompletedAt       time.Time `json:"completed_at"`
	ReachedPageLimit  bool      `json:"reached_page_limit"`
}

// ScanFailed reports a terminal failure.
type ScanFailed struct {
	ScanID       string    `json:"scan_id"`
	ErrorMessage string    `json:"error_message"`
	FailedAt     time.Time `json:"failed_at"`
}

// StatsUpdate carries a merged aggregate snapshot, broadcast to every
// subscriber regardless of scan group.
type StatsUpdate struct {
	Snapshot interface{} `json:"snapshot"`
}

// LogEntry is one structured log line forwarded from the arbor logger to
// every subscriber, used for the live backend-log stream in the admin UI.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// subscriber is one websocket connection and the set of scan_ids it has
// asked to receive messages for.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to this connection
	scans map[string]bool
	scansMu sync.RWMutex
}

func (s *subscriber) subscribed(scanID string) bool {
	s.scansMu.RLock()
	defer s.scansMu.RUnlock()
	return s.scans[scanID]
}

func (s *subscriber) send(msg envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Service fans scan-progress messages out to subscribers grouped by
// scan_id. A subscriber may belong to multiple groups at once.
type Service struct {
	logger arbor.ILogger

	mu          sync.RWMutex
	subscribers map[*websocket.Conn]*subscriber
}

// NewService creates an empty push service.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger:      logger,
		subscribers: make(map[*websocket.Conn]*subscriber),
	}
}

// Register adds a connection to the subscriber set with no scan groups.
func (s *Service) Register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[conn] = &subscriber{conn: conn, scans: make(map[string]bool)}
}

// Unregister removes a connection entirely.
func (s *Service) Unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, conn)
}

// SubscribeToScan adds conn to scanID's subscriber group.
func (s *Service) SubscribeToScan(conn *websocket.Conn, scanID string) {
	s.mu.RLock()
	sub, ok := s.subscribers[conn]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sub.scansMu.Lock()
	sub.scans[scanID] = true
	sub.scansMu.Unlock()
}

// UnsubscribeFromScan removes conn from scanID's subscriber group.
func (s *Service) UnsubscribeFromScan(conn *websocket.Conn, scanID string) {
	s.mu.RLock()
	sub, ok := s.subscribers[conn]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sub.scansMu.Lock()
	delete(sub.scans, scanID)
	sub.scansMu.Unlock()
}

// broadcastToScan sends msg to every subscriber currently subscribed to
// scanID. Order across the calls made on one scan is preserved because
// each call to broadcastToScan is synchronous.
func (s *Service) broadcastToScan(scanID string, msg envelope) {
	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if sub.subscribed(scanID) {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.send(msg); err != nil {
			s.logger.Warn().Err(err).Str("scan_id", scanID).Msg("failed to push message to subscriber")
		}
	}
}

// broadcastToAll sends msg to every registered subscriber, used for the
// process-wide StatsUpdate message.
func (s *Service) broadcastToAll(msg envelope) {
	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.send(msg); err != nil {
			s.logger.Warn().Err(err).Msg("failed to push stats update to subscriber")
		}
	}
}

func (s *Service) PushQueuePosition(u QueuePositionUpdate) {
	s.broadcastToScan(u.ScanID, envelope{Type: TypeQueuePositionUpdate, Payload: u})
}

func (s *Service) PushScanStarted(u ScanStarted) {
	s.broadcastToScan(u.ScanID, envelope{Type: TypeScanStarted, Payload: u})
}

func (s *Service) PushPageProgress(u PageProgress) {
	s.broadcastToScan(u.ScanID, envelope{Type: TypePageProgress, Payload: u})
}

func (s *Service) PushImageFound(u ImageFound) {
	s.broadcastToScan(u.ScanID, envelope{Type: TypeImageFound, Payload: u})
}

func (s *Service) PushScanComplete(u ScanComplete) {
	s.broadcastToScan(u.ScanID, envelope{Type: TypeScanComplete, Payload: u})
}

func (s *Service) PushScanFailed(u ScanFailed) {
	s.broadcastToScan(u.ScanID, envelope{Type: TypeScanFailed, Payload: u})
}

func (s *Service) PushStatsUpdate(snapshot interface{}) {
	s.broadcastToAll(envelope{Type: TypeStatsUpdate, Payload: StatsUpdate{Snapshot: snapshot}})
}

// PushLogEntry broadcasts one backend log line to every subscriber.
func (s *Service) PushLogEntry(entry LogEntry) {
	s.broadcastToAll(envelope{Type: TypeLogEntry, Payload: entry})
}
