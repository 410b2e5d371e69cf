package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/t77yq/metricwatch/internal/ingest"
	"github.com/t77yq/metricwatch/internal/model"
)

var errStoreDown = errors.New("store down")

type fakeAlertStore struct {
	mu        sync.Mutex
	created   map[string]model.Alert
	updates   map[string][]model.AlertUpdate
	open      []*model.Alert
	createErr error
	updateErr error
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		created: make(map[string]model.Alert),
		updates: make(map[string][]model.AlertUpdate),
	}
}

func (s *fakeAlertStore) Create(ctx context.Context, alert *model.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created[alert.ID] = alert.Clone()
	return alert.ID, nil
}

func (s *fakeAlertStore) Update(ctx context.Context, id string, update model.AlertUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates[id] = append(s.updates[id], update)
	return nil
}

func (s *fakeAlertStore) ListOpen(ctx context.Context) ([]*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, nil
}

func (s *fakeAlertStore) setCreateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *fakeAlertStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *fakeAlertStore) updateCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates[id])
}

// plainAlertStore hides ListOpen
type plainAlertStore struct {
	inner *fakeAlertStore
}

func (s plainAlertStore) Create(ctx context.Context, alert *model.Alert) (string, error) {
	return s.inner.Create(ctx, alert)
}

func (s plainAlertStore) Update(ctx context.Context, id string, update model.AlertUpdate) error {
	return s.inner.Update(ctx, id, update)
}

type dispatchCall struct {
	alert    model.Alert
	channels []string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (n *fakeNotifier) Dispatch(alert model.Alert, channels []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, dispatchCall{alert: alert, channels: channels})
}

func (n *fakeNotifier) Calls() []dispatchCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dispatchCall(nil), n.calls...)
}

type recorded struct {
	scope string
	name  string
	point model.MetricPoint
}

type fakeRecorder struct {
	mu     sync.Mutex
	points []recorded
}

func (r *fakeRecorder) Record(scopeKey, name string, value float64, opts ...ingest.RecordOption) {
	p := model.MetricPoint{ScopeKey: scopeKey, Name: name, Value: value}
	for _, opt := range opts {
		opt(&p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, recorded{scope: scopeKey, name: name, point: p})
}

func (r *fakeRecorder) byName(name string) []model.MetricPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.MetricPoint
	for _, p := range r.points {
		if p.name == name {
			out = append(out, p.point)
		}
	}
	return out
}

type fakeTriggerer struct {
	mu    sync.Mutex
	calls []model.AlertRule
}

func (f *fakeTriggerer) Trigger(ctx context.Context, rule model.AlertRule, value float64, point model.MetricPoint) model.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rule)
	return model.Alert{RuleID: rule.ID}
}

func (f *fakeTriggerer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePoints struct {
	mu     sync.Mutex
	points map[string]model.MetricPoint
}

func newFakePoints() *fakePoints {
	return &fakePoints{points: make(map[string]model.MetricPoint)}
}

func (f *fakePoints) set(scope, name string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[model.SeriesKey(scope, name)] = model.MetricPoint{ScopeKey: scope, Name: name, Value: value}
}

func (f *fakePoints) Latest(scopeKey, name string) (model.MetricPoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[model.SeriesKey(scopeKey, name)]
	return p, ok
}
