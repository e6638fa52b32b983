package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/resilience"
)

const workerGroup = "workers"

type Queue struct {
	conn           *nats.Conn
	processSubject string
	exportSubject  string
	concurrency    int
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// FailFastConnect returns an error from New when the first dial fails
	// instead of retrying in the background.
	FailFastConnect    bool
	ResilienceExecutor *resilience.Executor

	// ExportSubject receives finished generated documents; empty disables export.
	ExportSubject string
	// Concurrency bounds handlers running at once for one subscriber.
	Concurrency int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = time.Second
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 120
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) connectOptions() []nats.Option {
	logger := o.Logger
	return []nats.Option{
		nats.Name("pi-demand-letter"),
		nats.Timeout(o.ConnectTimeout),
		nats.ReconnectWait(o.ReconnectWait),
		nats.MaxReconnects(o.MaxReconnects),
		nats.RetryOnFailedConnect(!o.FailFastConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats_closed")
		}),
	}
}

// New dials url and returns a queue that publishes upload events on
// processSubject. A negative MaxReconnects reconnects forever.
func New(url, processSubject string, options Options) (*Queue, error) {
	opts := options.withDefaults()
	conn, err := nats.Connect(url, opts.connectOptions()...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Queue{
		conn:           conn,
		processSubject: processSubject,
		exportSubject:  opts.ExportSubject,
		concurrency:    opts.Concurrency,
		executor:       opts.ResilienceExecutor,
		logger:         opts.Logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) publish(ctx context.Context, operation, subject string, payload []byte) error {
	send := func(context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}
	if q.executor == nil {
		return wrapTemporaryIfNeeded(send(ctx))
	}
	return wrapTemporaryIfNeeded(q.executor.Execute(ctx, operation, send, classifyNATSError))
}

func (q *Queue) PublishDocumentUploaded(ctx context.Context, documentID string) error {
	return q.publish(ctx, "nats.publish_document", q.processSubject, []byte(documentID))
}

// SubscribeDocumentUploaded joins the worker queue group and runs handler for
// each delivered document id, at most Options.Concurrency at a time. It blocks
// until ctx is done, then drains and waits for running handlers.
func (q *Queue) SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	slots := make(chan struct{}, q.concurrency)
	var (
		mu      sync.Mutex
		closing bool
		running sync.WaitGroup
	)

	sub, err := q.conn.QueueSubscribe(q.processSubject, workerGroup, func(msg *nats.Msg) {
		documentID := strings.TrimSpace(string(msg.Data))
		if documentID == "" {
			q.logger.Warn("queue_empty_message", "subject", msg.Subject)
			return
		}

		mu.Lock()
		if closing || ctx.Err() != nil {
			mu.Unlock()
			return
		}
		running.Add(1)
		mu.Unlock()

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			running.Done()
			return
		}
		go func() {
			defer running.Done()
			defer func() { <-slots }()
			if err := handler(ctx, documentID); err != nil {
				q.logger.Error("worker_handler_failed", "document_id", documentID, "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	mu.Lock()
	closing = true
	mu.Unlock()

	drainErr := sub.Drain()
	running.Wait()
	if drainErr != nil {
		return fmt.Errorf("nats drain subscription: %w", drainErr)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// Exporter hands finished generated documents to the export collaborator.
type Exporter struct {
	queue *Queue
}

func NewExporter(queue *Queue) *Exporter {
	return &Exporter{queue: queue}
}

type exportMessage struct {
	ID           string              `json:"id"`
	CaseID       string              `json:"case_id"`
	DocumentType domain.DocumentType `json:"document_type"`
	Version      int                 `json:"version"`
	Tone         domain.Tone         `json:"tone"`
	Content      string              `json:"content"`
	ContentHTML  string              `json:"content_html,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

func encodeExport(doc *domain.GeneratedDocument) ([]byte, error) {
	return json.Marshal(exportMessage{
		ID:           doc.ID,
		CaseID:       doc.CaseID,
		DocumentType: doc.DocumentType,
		Version:      doc.Version,
		Tone:         doc.Tone,
		Content:      doc.Content,
		ContentHTML:  doc.ContentHTML,
		CreatedAt:    doc.CreatedAt,
	})
}

func (e *Exporter) Export(ctx context.Context, doc *domain.GeneratedDocument) error {
	if e.queue.exportSubject == "" {
		return nil
	}
	payload, err := encodeExport(doc)
	if err != nil {
		return fmt.Errorf("encode export message: %w", err)
	}
	return e.queue.publish(ctx, "nats.publish_export", e.queue.exportSubject, payload)
}
