// Package scheduler delivers the injection lists at each document lifecycle
// point and records every script's delivery phase.
package scheduler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/navigation"
	"github.com/GriffinCanCode/injectcore/internal/injection/phase"
	"github.com/GriffinCanCode/injectcore/internal/injection/tardy"
	"github.com/GriffinCanCode/injectcore/internal/injection/triage"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// Options configures a Scheduler
type Options struct {
	Nav      *navigation.Context
	Doc      host.Document
	Page     host.PageRealm
	Detector *tardy.Detector
	Metrics  *monitoring.Metrics
	// Info is sent with the first batch for each realm
	Info bridge.Info
}

// Scheduler drives delivery for one navigation
type Scheduler struct {
	nav     *navigation.Context
	doc     host.Document
	page    host.PageRealm
	det     *tardy.Detector
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	info     bridge.Info
	infoSent map[script.Realm]bool
	acked    map[script.RunAt]bool
}

// New creates a scheduler. On Firefox the page side pulls each page list
// itself, so the scheduler answers InjectList requests.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		nav:      opts.Nav,
		doc:      opts.Doc,
		page:     opts.Page,
		det:      opts.Detector,
		metrics:  opts.Metrics,
		logger:   logging.OrNop(opts.Nav.Logger).Named("scheduler"),
		info:     opts.Info,
		infoSent: make(map[script.Realm]bool),
		acked:    make(map[script.RunAt]bool),
	}
	if opts.Nav.Platform.Family == host.FamilyFirefox {
		opts.Nav.Bridge.Handle(bridge.CmdInjectList, s.onInjectList)
	}
	return s
}

func (s *Scheduler) onInjectList(msg host.Message) {
	req, err := bridge.Decode[bridge.InjectList](msg)
	if err != nil {
		s.logger.Warn("bad inject list request", zap.Error(err))
		return
	}
	s.InjectPageList(req.RunAt)
}

// InjectAll delivers the page list and then the isolated list for runAt.
// Each batch is announced with one ScriptData post and every id is queued
// with the stall detector before any code is placed. Descriptors delivered
// by an earlier pass are skipped.
func (s *Scheduler) InjectAll(runAt script.RunAt) {
	if s.nav.Closed() {
		return
	}
	for _, realm := range []script.Realm{script.RealmPage, script.RealmContent} {
		items := pendingOnly(s.nav.List(realm, runAt))
		if len(items) == 0 {
			continue
		}

		acked := s.nav.Bridge.Post(bridge.CmdScriptData, s.batch(realm, runAt, items), realm)
		for _, d := range items {
			s.det.Enqueue(d.ID)
			s.nav.Phases.Mark(d.ID, phase.Queued, phase.Point{Realm: realm, RunAt: runAt})
		}

		if realm == script.RealmContent {
			if acked {
				s.deliveredContent(runAt, items)
			}
			s.det.Schedule(tardy.ItemsOf(items), script.RealmContent, tardy.CheckPostDispatch, s.det.Policy().InitialDelay)
			continue
		}

		s.mu.Lock()
		s.acked[runAt] = acked
		s.mu.Unlock()
		if s.nav.Platform.Family != host.FamilyFirefox {
			s.InjectPageList(runAt)
		}
	}
}

// pendingOnly drops descriptors already delivered by an earlier pass
func pendingOnly(items []*script.Descriptor) []*script.Descriptor {
	out := items[:0]
	for _, d := range items {
		if d.Code != "" {
			out = append(out, d)
		}
	}
	return out
}

// batch builds the ScriptData message. Page-bound items carry metadata only:
// their code reaches the page through the script element.
func (s *Scheduler) batch(realm script.Realm, runAt script.RunAt, items []*script.Descriptor) bridge.ScriptData {
	msg := bridge.ScriptData{RunAt: runAt, Items: items}

	s.mu.Lock()
	if !s.infoSent[realm] {
		info := s.info
		msg.Info = &info
		s.infoSent[realm] = true
	}
	s.mu.Unlock()

	if realm == script.RealmPage {
		meta := make([]*script.Descriptor, len(items))
		for i, d := range items {
			c := *d
			c.Code = ""
			c.PathMap = nil
			meta[i] = &c
		}
		msg.Items = meta
	}
	return msg
}

// deliveredContent finishes isolated delivery: the realm ran the batch
// inside the post, so the code can go.
func (s *Scheduler) deliveredContent(runAt script.RunAt, items []*script.Descriptor) {
	for _, d := range items {
		d.Code = ""
		s.nav.Phases.Mark(d.ID, phase.Injected, phase.Point{Realm: script.RealmContent, RunAt: runAt})
		s.metrics.RecordDelivery(script.RealmContent.String(), runAt.String())
	}
}

// InjectPageList places every pending script of the page list for runAt.
// Idle scripts each wait for their own task so one slow script does not hold
// the others.
func (s *Scheduler) InjectPageList(runAt script.RunAt) {
	s.injectFrom(runAt, s.nav.List(script.RealmPage, runAt), 0)
}

func (s *Scheduler) injectFrom(runAt script.RunAt, items []*script.Descriptor, i int) {
	for ; i < len(items); i++ {
		d := items[i]
		if d.Code == "" {
			continue
		}
		if runAt == script.RunIdle {
			next := i + 1
			s.doc.NextTask(func() {
				s.injectOne(runAt, d)
				s.injectFrom(runAt, items, next)
			})
			return
		}
		s.injectOne(runAt, d)
	}
}

func (s *Scheduler) injectOne(runAt script.RunAt, d *script.Descriptor) {
	if s.nav.Closed() || d.Code == "" {
		return
	}
	pt := phase.Point{Realm: script.RealmPage, RunAt: runAt}

	// the key is planted just before the code runs so the page cannot
	// intercept it earlier
	if !d.Meta.Unwrap {
		s.nav.Bridge.Post(bridge.CmdPlant, bridge.Plant{ID: d.ID, Key: d.Key}, script.RealmPage)
		s.nav.Phases.Mark(d.ID, phase.PlantSent, pt)
	}

	s.page.InjectScript(host.ScriptElement{
		Text:        d.WrappedSource(),
		Nonce:       s.nav.Nonce,
		DisplayName: d.DisplayName(),
	})
	s.nav.Phases.Mark(d.ID, phase.Injected, pt)
	d.Code = ""
	s.metrics.RecordDelivery(script.RealmPage.String(), runAt.String())

	s.mu.Lock()
	batchAcked := s.acked[runAt]
	s.mu.Unlock()
	if d.Meta.Unwrap {
		if s.nav.Bridge.Post(bridge.CmdRun, bridge.Run{ID: d.ID}, script.RealmPage) {
			s.nav.Phases.Mark(d.ID, phase.RunDispatched, pt)
		}
	} else if batchAcked {
		s.nav.Phases.Mark(d.ID, phase.RunDispatched, pt)
	}

	s.det.Schedule([]tardy.Item{{ID: d.ID, Name: d.DisplayName(), RunAt: runAt}},
		script.RealmPage, tardy.CheckPostInject, s.det.Policy().InitialDelay)
}

// Merge classifies a batch resolved after delivery began and runs it
// through the end point once the document finished parsing, and through the
// idle point once it is idle.
// done receives the ids that went to the isolated realm.
func (s *Scheduler) Merge(scripts []*script.Descriptor, done func(isolated []script.IDKey)) {
	s.doc.OnContentLoaded(func() {
		if s.nav.Closed() {
			return
		}
		for _, d := range scripts {
			// start and body have passed; such scripts go out with end
			if d.Meta.RunAt < script.RunEnd {
				d.Meta.RunAt = script.RunEnd
			}
		}
		isolated := triage.ClassifyAll(s.nav, scripts)
		s.InjectAll(script.RunEnd)
		s.doc.OnIdle(func() { s.InjectAll(script.RunIdle) })
		if done != nil {
			done(isolated)
		}
	})
}
