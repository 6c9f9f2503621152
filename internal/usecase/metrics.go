package usecase

import domrepo "AlphaBlend/internal/domain/repository"

type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string, float64, float64) {}
func (nopMetrics) RecordBlend(string, float64, float64, int)     {}
func (nopMetrics) RecordPodError(string, string)                 {}
func (nopMetrics) RecordWeight(string, string, float64)          {}
func (nopMetrics) RecordRebalance(int)                           {}
func (nopMetrics) RecordModelCall(string, float64)               {}
func (nopMetrics) RecordSinkError(string)                        {}
func (nopMetrics) RecordIngestError(string)                      {}
func (nopMetrics) RecordLatency(string, float64)                 {}

var _ domrepo.Metrics = nopMetrics{}
