package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alphablend"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signals     *prometheus.CounterVec
	signalValue *prometheus.GaugeVec
	signalConf  *prometheus.HistogramVec
	blendSignal *prometheus.GaugeVec
	blendConf   *prometheus.GaugeVec
	contrib     *prometheus.HistogramVec
	podErrors   *prometheus.CounterVec
	weights     *prometheus.GaugeVec
	rebalances  prometheus.Counter
	committed   prometheus.Counter
	modelCalls  *prometheus.HistogramVec
	sinkErrors  *prometheus.CounterVec
	ingestErrs  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pod_signals_total",
			Help: "Signals emitted per pod",
		}, []string{"pod"}),
		signalValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pod_signal",
			Help: "Last signal emitted per pod and symbol",
		}, []string{"pod", "symbol"}),
		signalConf: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pod_signal_confidence",
			Help:    "Confidence of emitted pod signals",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"pod"}),
		blendSignal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "blended_signal",
			Help: "Last blended signal per symbol",
		}, []string{"symbol"}),
		blendConf: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "blended_confidence",
			Help: "Last blended confidence per symbol",
		}, []string{"symbol"}),
		contrib: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "blend_contributors",
			Help:    "Number of pods contributing to a decision",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		}, []string{"symbol"}),
		podErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pod_errors_total",
			Help: "Pod compute failures by kind",
		}, []string{"pod", "kind"}),
		weights: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pod_weight",
			Help: "Allocator weight per symbol and pod",
		}, []string{"symbol", "pod"}),
		rebalances: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rebalances_total",
			Help: "Allocator rebalance passes",
		}),
		committed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rebalance_commits_total",
			Help: "Symbols whose weights changed on a rebalance",
		}),
		modelCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "model_call_duration_seconds",
			Help:    "Model service call latency by outcome",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"outcome"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Decision sink delivery failures",
		}, []string{"sink"}),
		ingestErrs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_errors_total",
			Help: "Rejected or undecodable feature updates",
		}, []string{"kind"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordSignal(pod, symbol string, signal, confidence float64) {
	r.signals.WithLabelValues(pod).Inc()
	r.signalValue.WithLabelValues(pod, symbol).Set(signal)
	r.signalConf.WithLabelValues(pod).Observe(confidence)
}

func (r *Recorder) RecordBlend(symbol string, signal, confidence float64, contributors int) {
	r.blendSignal.WithLabelValues(symbol).Set(signal)
	r.blendConf.WithLabelValues(symbol).Set(confidence)
	r.contrib.WithLabelValues(symbol).Observe(float64(contributors))
}

func (r *Recorder) RecordPodError(pod, kind string) {
	r.podErrors.WithLabelValues(pod, kind).Inc()
}

func (r *Recorder) RecordWeight(symbol, pod string, weight float64) {
	r.weights.WithLabelValues(symbol, pod).Set(weight)
}

// RecordRebalance counts one pass and the number of symbols it changed.
func (r *Recorder) RecordRebalance(committed int) {
	r.rebalances.Inc()
	r.committed.Add(float64(committed))
}

func (r *Recorder) RecordModelCall(outcome string, seconds float64) {
	r.modelCalls.WithLabelValues(outcome).Observe(seconds)
}

func (r *Recorder) RecordSinkError(sink string) {
	r.sinkErrors.WithLabelValues(sink).Inc()
}

func (r *Recorder) RecordIngestError(kind string) {
	r.ingestErrs.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
