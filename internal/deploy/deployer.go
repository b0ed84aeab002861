package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/ha-config-assistant/internal/events"
)

const queueSize = 16

// ConfigStore is the subset of the Home Assistant client the deployer
// writes through.
type ConfigStore interface {
	SaveConfig(ctx context.Context, kind, id string, doc map[string]any) error
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// ErrUnavailable is returned by Submit while the store reports that
// Home Assistant is unreachable.
var ErrUnavailable = errors.New("Home Assistant is not reachable")

// readyChecker is satisfied by a homeassistant.Client with a watcher.
type readyChecker interface {
	IsReady() bool
}

// Request asks for one deploy.
type Request struct {
	RequestID string
	Type      string
	Config    string
}

type job struct {
	requestID string
	doc       *Document
}

// Deployer validates deploy requests up front and writes them to Home
// Assistant from a single consumer goroutine.
type Deployer struct {
	store  ConfigStore
	bus    *events.Bus
	logger *slog.Logger
	queue  chan job
	now    func() time.Time
}

// New creates a Deployer. Call [Deployer.Run] to start consuming.
func New(store ConfigStore, bus *events.Bus, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		store:  store,
		bus:    bus,
		logger: logger,
		queue:  make(chan job, queueSize),
		now:    time.Now,
	}
}

// Submit builds the document for req, announces it, and queues it for
// writing. Build errors are returned immediately; write errors surface
// later as a deployed event carrying the error.
func (d *Deployer) Submit(ctx context.Context, req Request) (*Document, error) {
	doc, err := Build(req.Type, req.Config, d.now())
	if err != nil {
		return nil, err
	}
	if rc, ok := d.store.(readyChecker); ok && !rc.IsReady() {
		return nil, ErrUnavailable
	}

	select {
	case d.queue <- job{requestID: req.RequestID, doc: doc}:
	case <-ctx.Done():
		return nil, fmt.Errorf("queue deploy: %w", ctx.Err())
	}

	d.bus.Publish(events.NewEvent(events.DeployRequestedType(doc.Type), events.DeployRequested{
		RequestID:  req.RequestID,
		ConfigType: doc.Type,
		ID:         doc.ID,
		Alias:      doc.Alias,
	}))
	d.logger.Info("deploy queued", "type", doc.Type, "id", doc.ID, "request_id", req.RequestID)
	return doc, nil
}

// Run consumes queued deploys until ctx is cancelled.
func (d *Deployer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.deploy(ctx, j)
		}
	}
}

func (d *Deployer) deploy(ctx context.Context, j job) {
	doc := j.doc
	result := events.Deployed{
		RequestID:  j.requestID,
		ConfigType: doc.Type,
		ID:         doc.ID,
		Alias:      doc.Alias,
	}

	if err := d.write(ctx, doc); err != nil {
		result.Error = err.Error()
		d.logger.Error("deploy failed", "type", doc.Type, "id", doc.ID, "error", err)
	} else {
		d.logger.Info("deployed", "type", doc.Type, "id", doc.ID, "alias", doc.Alias)
	}

	d.bus.Publish(events.NewEvent(events.TypeDeployed, result))
}

func (d *Deployer) write(ctx context.Context, doc *Document) error {
	if err := d.store.SaveConfig(ctx, doc.Type, doc.ID, doc.Body); err != nil {
		return fmt.Errorf("save %s %s: %w", doc.Type, doc.ID, err)
	}
	if err := d.store.CallService(ctx, doc.Type, "reload", nil); err != nil {
		return fmt.Errorf("reload %s: %w", doc.Type, err)
	}
	return nil
}
