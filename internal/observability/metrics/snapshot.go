package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// OpsSnapshot is the slice of process metrics shown on the admin dashboard.
// Counters are totals since process start.
type OpsSnapshot struct {
	LoginsByOutcome map[string]float64 `json:"loginsByOutcome"`
	EmailsByStatus  map[string]float64 `json:"emailsByStatus"`
	UploadsByType   map[string]float64 `json:"uploadsByType"`
	SignalingPeers  float64            `json:"signalingPeers"`
}

// Snapshotter reads OpsSnapshot from a gatherer, normally the registry
// PortalMetrics was registered on.
type Snapshotter struct {
	gatherer prometheus.Gatherer
}

func NewSnapshotter(gatherer prometheus.Gatherer) *Snapshotter {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Snapshotter{gatherer: gatherer}
}

func (s *Snapshotter) Operations() OpsSnapshot {
	out := OpsSnapshot{
		LoginsByOutcome: map[string]float64{},
		EmailsByStatus:  map[string]float64{},
		UploadsByType:   map[string]float64{},
	}
	mfs, err := s.gatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case namespace + "_auth_logins_total":
			sumCounterBy(mf, "outcome", out.LoginsByOutcome, nil)
		case namespace + "_notify_deliveries_total":
			sumCounterBy(mf, "status", out.EmailsByStatus, func(m *dto.Metric) bool {
				v, _ := labelValue(m, "channel")
				return v == "email"
			})
		case namespace + "_documents_uploads_total":
			sumCounterBy(mf, "document_type", out.UploadsByType, nil)
		case namespace + "_video_signaling_peers":
			for _, m := range mf.Metric {
				if g := m.GetGauge(); g != nil {
					out.SignalingPeers += g.GetValue()
				}
			}
		}
	}
	return out
}

// sumCounterBy folds the series of a counter family accepted by keep into
// into, keyed by the value of label. Series without the label are ignored.
func sumCounterBy(mf *dto.MetricFamily, label string, into map[string]float64, keep func(*dto.Metric) bool) {
	for _, m := range mf.Metric {
		if m == nil || m.GetCounter() == nil || (keep != nil && !keep(m)) {
			continue
		}
		if v, ok := labelValue(m, label); ok {
			into[v] += m.GetCounter().GetValue()
		}
	}
}

func labelValue(m *dto.Metric, name string) (string, bool) {
	for _, lp := range m.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue(), true
		}
	}
	return "", false
}
